// Package preflight probes a live source before a worker is spawned for it.
package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/hashicorp/go-hclog"
)

// Media summarises one track announced by the source
type Media struct {
	Type   string   `json:"type"`
	Codecs []string `json:"codecs"`
}

// Result is what a successful probe learned about the source
type Result struct {
	Medias  []Media       `json:"medias"`
	Elapsed time.Duration `json:"elapsed"`
}

// Prober checks that a source answers before it is handed to a worker
type Prober interface {
	Probe(ctx context.Context, sourceURL string) (*Result, error)
}

// RTSPProber sends an RTSP DESCRIBE and reports the announced medias
type RTSPProber struct {
	timeout time.Duration
	logger  hclog.Logger
}

// NewRTSPProber creates a prober bounded by timeout
func NewRTSPProber(timeout time.Duration, logger hclog.Logger) *RTSPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RTSPProber{
		timeout: timeout,
		logger:  logger.Named("preflight"),
	}
}

type describeResult struct {
	desc *description.Session
	err  error
}

// Probe connects to sourceURL and issues DESCRIBE. It gives up when ctx is
// done or the prober timeout elapses, whichever comes first.
func (p *RTSPProber) Probe(ctx context.Context, sourceURL string) (*Result, error) {
	u, err := base.ParseURL(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client := &gortsplib.Client{
		ReadTimeout:  p.timeout,
		WriteTimeout: p.timeout,
	}

	start := time.Now()
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	resCh := make(chan describeResult, 1)
	go func() {
		desc, _, err := client.Describe(u)
		resCh <- describeResult{desc: desc, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("describe timed out: %w", ctx.Err())
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("describe failed: %w", res.err)
		}

		result := &Result{Elapsed: time.Since(start)}
		for _, media := range res.desc.Medias {
			m := Media{Type: string(media.Type)}
			for _, f := range media.Formats {
				m.Codecs = append(m.Codecs, f.Codec())
			}
			result.Medias = append(result.Medias, m)
		}

		p.logger.Debug("source answered describe",
			"host", u.Host,
			"medias", len(result.Medias),
			"elapsed", result.Elapsed)
		return result, nil
	}
}
