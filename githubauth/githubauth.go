// Package githubauth mints GitHub App installation tokens.
// Tokens are requested by signing a JWT with the app's private key and
// exchanging it on the installation access token endpoint. The resulting
// token can be used both as a git password and as an API bearer token.
package githubauth

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/oauth2"
)

// tokens are renewed this long before their reported expiry
const tokenRenewalWindow = 10 * time.Minute

type AppTokenReqPermissions struct {
	Repositories []string          `json:"repositories,omitempty"`
	Permissions  map[string]string `json:"permissions,omitempty"`
}

type AppToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AppConfig holds the GitHub App details required to mint installation tokens
type AppConfig struct {
	// The application id or the client ID of the Github app
	AppID string `yaml:"github_app_id"`
	// The installation id of the app (in the organization)
	InstallationID string `yaml:"github_app_installation_id"`
	// path to the github app private key
	PrivateKeyPath string `yaml:"github_app_private_key_path"`
}

// Empty returns whether none of the app attributes are set
func (c AppConfig) Empty() bool {
	return c.AppID == "" && c.InstallationID == "" && c.PrivateKeyPath == ""
}

// Validate makes sure all app attributes are set if any of them is
func (c AppConfig) Validate() error {
	if c.Empty() {
		return nil
	}
	if c.AppID == "" || c.InstallationID == "" || c.PrivateKeyPath == "" {
		return fmt.Errorf("all of the Github app attributes are required")
	}
	return nil
}

// AppInstallationToken creates new installation access token with given
// permissions. If reqPerms is empty the token gets the app's full access.
func AppInstallationToken(ctx context.Context, conf AppConfig, reqPerms AppTokenReqPermissions) (*AppToken, error) {
	privatePEMData, err := os.ReadFile(conf.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(privatePEMData)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, fmt.Errorf("failed to decode PEM block containing private key")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: privateKey}, nil)
	if err != nil {
		return nil, err
	}

	cl := jwt.Claims{
		// GitHub App's ID or client ID
		Issuer: conf.AppID,
		// issued at time, 60 seconds in the past to allow for clock drift
		IssuedAt: jwt.NewNumericDate(time.Now().Add(-60 * time.Second)),
		// JWT expiration time (10 minute maximum)
		Expiry: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
	}

	jwtToken, err := jwt.Signed(signer).Claims(cl).Serialize()
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(reqPerms)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("https://api.github.com/app/installations/%s/access_tokens", conf.InstallationID)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		errMessage, err := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GitHub app token response status %d, body:%q  err:%w", resp.StatusCode, errMessage, err)
	}

	var tokenResponse AppToken
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, err
	}

	return &tokenResponse, nil
}

// AppTokenSource is an oauth2.TokenSource backed by a GitHub App
// installation. It caches the installation token and renews it before expiry.
// Safe for concurrent use when wrapped with oauth2.ReuseTokenSource.
type AppTokenSource struct {
	conf  AppConfig
	perms AppTokenReqPermissions
}

// NewAppTokenSource returns a token source minting installation tokens with
// the given permissions. Callers should wrap it with oauth2.ReuseTokenSource.
func NewAppTokenSource(conf AppConfig, perms AppTokenReqPermissions) *AppTokenSource {
	return &AppTokenSource{conf: conf, perms: perms}
}

// Token implements oauth2.TokenSource
func (s *AppTokenSource) Token() (*oauth2.Token, error) {
	token, err := AppInstallationToken(context.Background(), s.conf, s.perms)
	if err != nil {
		return nil, fmt.Errorf("unable to get github app token err:%w", err)
	}

	return &oauth2.Token{
		AccessToken: token.Token,
		// renew early so long git fetches don't start with a token
		// about to expire
		Expiry: token.ExpiresAt.Add(-tokenRenewalWindow),
	}, nil
}
