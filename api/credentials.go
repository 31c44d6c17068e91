package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	defaultAuthURL = "https://www.reddit.com/api/v1/access_token"

	installedClientGrant = "https://oauth.reddit.com/grants/installed_client"
	installedDeviceID    = "DO_NOT_TRACK_THIS_DEVICE"
	tokenScope           = "read"
)

// Credentials bundles whatever credential material is configured.
// Empty strings mean absent.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// trimmed strips whitespace around the identifiers. The password is sent as configured.
func (c Credentials) trimmed() Credentials {
	return Credentials{
		ClientID:     strings.TrimSpace(c.ClientID),
		ClientSecret: strings.TrimSpace(c.ClientSecret),
		Username:     strings.TrimSpace(c.Username),
		Password:     c.Password,
	}
}

func (c Credentials) hasPassword() bool {
	return strings.TrimSpace(c.Password) != ""
}

// Empty reports whether no credential material is configured at all
func (c Credentials) Empty() bool {
	t := c.trimmed()
	return t.ClientID == "" && t.ClientSecret == "" && t.Username == "" && !t.hasPassword()
}

// TokenResult is either an available bearer token or the reason none could be obtained
type TokenResult struct {
	AccessToken string
	Strategy    string
	Reason      string
}

func (r TokenResult) Available() bool {
	return r.AccessToken != ""
}

func unavailable(reason string) TokenResult {
	return TokenResult{Reason: reason}
}

// grantStrategy is one way of exchanging credentials for a token
type grantStrategy struct {
	name       string
	applicable func(c Credentials) bool
	request    func(ctx context.Context, tokenURL string, c Credentials) (*oauth2.Token, error)
}

// grantStrategies are attempted in order until one yields a token
var grantStrategies = []grantStrategy{
	{
		name: "confidential_client",
		applicable: func(c Credentials) bool {
			return c.ClientID != "" && c.ClientSecret != ""
		},
		request: func(ctx context.Context, tokenURL string, c Credentials) (*oauth2.Token, error) {
			conf := clientcredentials.Config{
				ClientID:     c.ClientID,
				ClientSecret: c.ClientSecret,
				TokenURL:     tokenURL,
				Scopes:       []string{tokenScope},
				AuthStyle:    oauth2.AuthStyleInHeader,
			}
			return conf.Token(ctx)
		},
	},
	{
		name: "installed_client",
		applicable: func(c Credentials) bool {
			return c.ClientID != ""
		},
		request: func(ctx context.Context, tokenURL string, c Credentials) (*oauth2.Token, error) {
			conf := clientcredentials.Config{
				ClientID:  c.ClientID,
				TokenURL:  tokenURL,
				Scopes:    []string{tokenScope},
				AuthStyle: oauth2.AuthStyleInHeader,
				EndpointParams: map[string][]string{
					"grant_type": {installedClientGrant},
					"device_id":  {installedDeviceID},
				},
			}
			return conf.Token(ctx)
		},
	},
	{
		name: "password",
		applicable: func(c Credentials) bool {
			return c.ClientID != "" && c.ClientSecret != "" && c.Username != "" && c.hasPassword()
		},
		request: func(ctx context.Context, tokenURL string, c Credentials) (*oauth2.Token, error) {
			conf := oauth2.Config{
				ClientID:     c.ClientID,
				ClientSecret: c.ClientSecret,
				Scopes:       []string{tokenScope},
				Endpoint: oauth2.Endpoint{
					TokenURL:  tokenURL,
					AuthStyle: oauth2.AuthStyleInHeader,
				},
			}
			return conf.PasswordCredentialsToken(ctx, c.Username, c.Password)
		},
	},
}

// CredentialResolver obtains a bearer token by trying each grant strategy in order
type CredentialResolver struct {
	platform   string
	tokenURL   string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      TokenCache
	sink       EventSink
}

// Resolve never fails; a failed attempt is reported through the event sink and the next strategy is tried
func (r *CredentialResolver) Resolve(ctx context.Context, creds Credentials) TokenResult {
	creds = creds.trimmed()
	if creds.Empty() {
		return unavailable("no credentials configured")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	event := Event{CallID: callIDFrom(ctx), Platform: r.platform, Stage: StageToken}

	for _, strategy := range grantStrategies {
		event.Strategy = strategy.name

		if !strategy.applicable(creds) {
			r.emit(event, OutcomeSkipped, ErrNoCredentials)
			continue
		}

		cacheKey := strategy.name + ":" + creds.ClientID + ":" + creds.Username
		if r.cache != nil {
			if token, ok := r.cache.Get(ctx, cacheKey); ok {
				r.emit(event, OutcomeSuccess, nil)
				return TokenResult{AccessToken: token, Strategy: strategy.name}
			}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				r.emit(event, OutcomeFailure, err)
				return unavailable(err.Error())
			}
		}

		token, err := strategy.request(ctx, r.tokenURL, creds)
		if err != nil {
			err = tokenError(err)
			failed := event
			failed.StatusCode = statusCodeOf(err)
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				failed.Body = statusErr.Body
			}
			r.emit(failed, OutcomeFailure, err)
			if ctx.Err() != nil {
				return unavailable(ctx.Err().Error())
			}
			continue
		}

		if r.cache != nil && !token.Expiry.IsZero() {
			r.cache.Put(ctx, cacheKey, token.AccessToken, time.Until(token.Expiry))
		}
		r.emit(event, OutcomeSuccess, nil)
		return TokenResult{AccessToken: token.AccessToken, Strategy: strategy.name}
	}

	return unavailable("all token strategies failed")
}

func (r *CredentialResolver) emit(e Event, outcome Outcome, err error) {
	e.Outcome = outcome
	e.Err = err
	if r.sink != nil {
		r.sink.Emit(e)
	}
}

// tokenError turns an oauth2 retrieve error into a StatusError
func tokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return &StatusError{
			StatusCode: retrieveErr.Response.StatusCode,
			Body:       truncateBody(string(retrieveErr.Body)),
		}
	}
	return err
}

type callIDKey struct{}

func withCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

func callIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}
