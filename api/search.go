package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/brettboylen/tag-search/models"
)

var errNoBearerToken = errors.New("no bearer token")

// searchAttempt performs one search request and normalizes its result
type searchAttempt func(ctx context.Context, tag string, limit int, token string) ([]models.Post, error)

// searchStrategy is one row of a cascade's strategy table
type searchStrategy struct {
	name          string
	authenticated bool
	limitCap      int
	run           searchAttempt
}

// cascade tries its strategies in order, then exactly one unauthenticated fallback
type cascade struct {
	platform   string
	strategies []searchStrategy
	fallback   searchStrategy
	sink       EventSink
}

// run returns the first non-empty result and the name of the strategy that produced it.
// A 2xx response with no usable posts is a dead end, not a failure; both advance the cascade.
func (c *cascade) run(ctx context.Context, tag string, limit int, token string) ([]models.Post, string) {
	event := Event{CallID: callIDFrom(ctx), Platform: c.platform, Stage: StageSearch}

	for _, strategy := range c.strategies {
		event.Strategy = strategy.name
		strategyToken := ""
		if strategy.authenticated {
			if token == "" {
				c.emit(event, OutcomeSkipped, 0, errNoBearerToken)
				continue
			}
			strategyToken = token
		}

		capped := capLimit(limit, strategy.limitCap)
		posts, err := strategy.run(ctx, tag, capped, strategyToken)
		if err != nil {
			c.emitFailure(event, err)
			if ctx.Err() != nil {
				return []models.Post{}, ""
			}
			continue
		}
		if len(posts) == 0 {
			c.emit(event, OutcomeDeadEnd, 0, nil)
			continue
		}

		posts = truncatePosts(posts, capped)
		c.emit(event, OutcomeSuccess, len(posts), nil)
		return posts, strategy.name
	}

	event.Strategy = c.fallback.name
	capped := capLimit(limit, c.fallback.limitCap)
	posts, err := c.fallback.run(ctx, tag, capped, "")
	if err != nil {
		c.emitFailure(event, err)
		return []models.Post{}, c.fallback.name
	}
	if len(posts) == 0 {
		c.emit(event, OutcomeDeadEnd, 0, nil)
		return []models.Post{}, c.fallback.name
	}

	posts = truncatePosts(posts, capped)
	c.emit(event, OutcomeSuccess, len(posts), nil)
	return posts, c.fallback.name
}

func (c *cascade) emit(e Event, outcome Outcome, results int, err error) {
	e.Outcome = outcome
	e.Results = results
	e.Err = err
	if c.sink != nil {
		c.sink.Emit(e)
	}
}

func (c *cascade) emitFailure(e Event, err error) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		e.StatusCode = statusErr.StatusCode
		e.Body = statusErr.Body
	}
	c.emit(e, OutcomeFailure, 0, err)
}

func capLimit(limit, limitCap int) int {
	if limitCap > 0 && limit > limitCap {
		return limitCap
	}
	return limit
}

func truncatePosts(posts []models.Post, limit int) []models.Post {
	if limit > 0 && len(posts) > limit {
		return posts[:limit]
	}
	return posts
}

// getListing issues a GET and normalizes the 2xx body. A non-empty token is sent as a bearer header.
func getListing(ctx context.Context, client *http.Client, endpoint, token, platform string, inspect func(*http.Response)) ([]models.Post, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if inspect != nil {
		inspect(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncateBody(string(body))}
	}

	posts, err := NormalizeListing(body, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return posts, nil
}
