package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const defaultHTTPTimeout = 30 * time.Second

// httpSource downloads artifacts from http(s) URLs.
type httpSource struct {
	rest *resty.Client
}

func newHTTPSource(timeout time.Duration) *httpSource {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(defaultHTTPTimeout)
	}
	r.SetRetryCount(2).SetRetryWaitTime(500 * time.Millisecond)
	return &httpSource{rest: r}
}

func (h *httpSource) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := h.rest.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", url)
	}
	if resp.IsError() {
		return nil, errors.Newf("fetch %s: %s", url, resp.Status())
	}
	log.Info().Str("url", url).Int("bytes", len(resp.Body())).Msg("artifact downloaded")
	return resp.Body(), nil
}
