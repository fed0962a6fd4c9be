package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/BaSui01/docqa/types"
)

// rateLimitedBackend 按每秒请求数限流的后端装饰器。
// 上游放行前调用方会阻塞等待令牌，context 取消时立即返回。
type rateLimitedBackend struct {
	inner   Backend
	limiter *rate.Limiter
}

// WithRateLimit 为后端套上请求速率限制。
// rps <= 0 时原样返回（不限流）。
func WithRateLimit(inner Backend, rps float64, burst int) Backend {
	if rps <= 0 {
		return inner
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedBackend{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (b *rateLimitedBackend) Name() string { return b.inner.Name() }

func (b *rateLimitedBackend) Generate(ctx context.Context, req *types.GenerationRequest) (*BackendResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, types.NewError(types.ErrRateLimited, "rate limit wait cancelled").WithCause(err).WithProvider(b.inner.Name())
	}
	return b.inner.Generate(ctx, req)
}
