package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// appInstallationToken exchanges GitHub App credentials for an
// installation access token scoped to the PR's owner:
//
//  1. mint an RS256 JWT (iss = app id, iat = now-60s, exp = now+10m)
//  2. list /app/installations and match the account login to the owner
//  3. create an access token for that installation
func appInstallationToken(ctx context.Context, client *http.Client, baseURL string, appID int64, privateKeyPath, owner string) (string, error) {
	if appID == 0 || privateKeyPath == "" {
		return "", fmt.Errorf("github: App auth requires app_id and private_key_path")
	}

	pem, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return "", fmt.Errorf("github: read App private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return "", fmt.Errorf("github: invalid App private key: %w", err)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    strconv.FormatInt(appID, 10),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("github: sign App JWT: %w", err)
	}

	installations, err := listInstallations(ctx, client, baseURL, signed)
	if err != nil {
		return "", err
	}

	var installationID int64
	for _, inst := range installations {
		if strings.EqualFold(inst.Account.Login, owner) {
			installationID = inst.ID
			break
		}
	}
	if installationID == 0 {
		return "", fmt.Errorf("github: no App installation found for owner %q", owner)
	}
	log.Info().Int64("installation_id", installationID).Str("owner", owner).Msg("found GitHub App installation")

	token, err := createInstallationToken(ctx, client, baseURL, signed, installationID)
	if err != nil {
		return "", err
	}
	log.Info().Msg("GitHub App installation token obtained")
	return token, nil
}

type installation struct {
	ID      int64 `json:"id"`
	Account struct {
		Login string `json:"login"`
	} `json:"account"`
}

func listInstallations(ctx context.Context, client *http.Client, baseURL, bearer string) ([]installation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/app/installations", nil)
	if err != nil {
		return nil, err
	}
	setAppHeaders(req, bearer)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("github: list App installations %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var installations []installation
	if err := json.NewDecoder(resp.Body).Decode(&installations); err != nil {
		return nil, fmt.Errorf("github: decode installations: %w", err)
	}
	return installations, nil
}

func createInstallationToken(ctx context.Context, client *http.Client, baseURL, bearer string, installationID int64) (string, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	setAppHeaders(req, bearer)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("github: create installation token %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var data struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("github: decode installation token: %w", err)
	}
	if data.Token == "" {
		return "", fmt.Errorf("github: no token in installation response")
	}
	return data.Token, nil
}

func setAppHeaders(req *http.Request, bearer string) {
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
}
