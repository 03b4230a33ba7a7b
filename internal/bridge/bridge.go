// Package bridge calls the in-game promotion service and mirrors successful
// promotions onto the Discord member.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/metrics"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/notify"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/promotion"
	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/roles"
)

const (
	DefaultTimeout = 15 * time.Second

	// MaxBodyLength caps the response body kept for logs and replies
	MaxBodyLength = 1500

	maxReadBytes = 64 << 10
)

var ErrNoURL = errors.New("bridge_url is not configured")

// Payload is the JSON body sent to the bridge
type Payload struct {
	Action         string `json:"action"`
	IGN            string `json:"ign"`
	TargetRank     string `json:"target_rank"`
	RequestedByID  string `json:"requested_by_id"`
	RequestedByTag string `json:"requested_by_tag"`
	GuildID        string `json:"guild_id"`
}

// PayloadFor builds the promote payload for req
func PayloadFor(req *promotion.Request) Payload {
	return Payload{
		Action:         "promote",
		IGN:            req.Handle,
		TargetRank:     req.Rank,
		RequestedByID:  req.RequesterID,
		RequestedByTag: req.RequesterTag,
		GuildID:        req.GuildID,
	}
}

// Outcome is the result of one bridge call. Status is zero when no response
// was received.
type Outcome struct {
	OK     bool
	Status int
	Body   string
	Err    error
}

// Summary is a short human readable form of a failed outcome
func (o Outcome) Summary() string {
	switch {
	case o.OK:
		return "ok"
	case o.Err != nil && o.Status == 0:
		return notify.Truncate(o.Err.Error(), MaxBodyLength)
	case o.Body != "":
		return fmt.Sprintf("HTTP %d: %s", o.Status, o.Body)
	default:
		return fmt.Sprintf("HTTP %d", o.Status)
	}
}

// Dispatcher posts promotion payloads to the bridge. It never retries.
type Dispatcher struct {
	url        string
	token      string
	httpClient *http.Client
	metrics    *metrics.Recorder
}

// NewDispatcher creates a Dispatcher. A zero timeout uses DefaultTimeout.
func NewDispatcher(url, token string, timeout time.Duration, rec *metrics.Recorder) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		url:   url,
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: rec,
	}
}

// Dispatch sends payload once. Transport errors, timeouts and non-2xx
// responses all yield OK=false.
func (d *Dispatcher) Dispatch(ctx context.Context, payload Payload) Outcome {
	if d.url == "" {
		return Outcome{Err: ErrNoURL}
	}

	start := time.Now()
	out := d.dispatch(ctx, payload)
	d.metrics.BridgeCall(out.OK, time.Since(start))
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, payload Payload) Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Outcome{Err: fmt.Errorf("bridge request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	out := Outcome{
		Status: resp.StatusCode,
		Body:   notify.Truncate(string(raw), MaxBodyLength),
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	if err != nil {
		out.OK = false
		out.Err = fmt.Errorf("failed to read bridge response: %w", err)
	}
	return out
}

// Auditor receives audit entries. Implementations must not fail.
type Auditor interface {
	Audit(ctx context.Context, guildID, content string)
}

// Result is what Promote reports back to the requester
type Result struct {
	Outcome     Outcome
	Mirrored    bool
	AlreadyHad  bool
	MirrorError error
}

// Promoter runs a bridge promotion and mirrors the rank locally on success
type Promoter struct {
	dispatcher *Dispatcher
	granter    *roles.Granter
	auditor    Auditor
	log        *slog.Logger
}

// NewPromoter creates a Promoter
func NewPromoter(dispatcher *Dispatcher, granter *roles.Granter, auditor Auditor) *Promoter {
	return &Promoter{
		dispatcher: dispatcher,
		granter:    granter,
		auditor:    auditor,
		log:        slog.With("component", "bridge"),
	}
}

// Promote dispatches req to the bridge. On success the rank role is granted
// to the target member; a failed grant is logged and audited but never turns
// the result into a failure. On failure no role is touched.
func (p *Promoter) Promote(ctx context.Context, req *promotion.Request) Result {
	out := p.dispatcher.Dispatch(ctx, PayloadFor(req))
	if !out.OK {
		p.log.Error("Bridge promotion failed",
			"ign", req.Handle, "rank", req.Rank, "status", out.Status, "body", out.Body, "error", out.Err)
		p.auditor.Audit(ctx, req.GuildID, fmt.Sprintf("⚠ **Auto-MC promotion failed** for IGN **%s** → **%s** (requested by <@%s>): %s",
			req.Handle, req.Rank, req.RequesterID, out.Summary()))
		return Result{Outcome: out}
	}

	p.log.Info("Bridge promotion succeeded", "ign", req.Handle, "rank", req.Rank, "status", out.Status)
	p.auditor.Audit(ctx, req.GuildID, fmt.Sprintf("✅ **Auto-MC promotion**: IGN **%s** → **%s** for <@%s> (requested by <@%s>)",
		req.Handle, req.Rank, req.TargetID, req.RequesterID))

	res := Result{Outcome: out}
	grant, err := p.granter.GrantByName(ctx, "bridge", req.GuildID, req.TargetID, req.Rank)
	if err != nil {
		res.MirrorError = err
		p.log.Warn("Failed to mirror promotion role", append(notify.DescribeRESTError(err),
			"guild", req.GuildID, "target", req.TargetID, "rank", req.Rank)...)
		p.auditor.Audit(ctx, req.GuildID, fmt.Sprintf("⚠ Could not mirror role **%s** onto <@%s>: %v",
			req.Rank, req.TargetID, err))
		return res
	}
	res.Mirrored = true
	res.AlreadyHad = grant.AlreadyHad
	return res
}
