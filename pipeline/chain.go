package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/types"
)

// apologyMessage 是处理链内部失败时返回给用户的统一文案。
// 失败原因只进日志。
const apologyMessage = "抱歉，处理您的请求时出现了问题，请稍后再试。"

// Chain 按固定顺序执行各处理步骤。
type Chain struct {
	steps  []Step
	logger *zap.Logger
}

// NewChain 组装标准的五步处理链。
func NewChain(steps []Step, logger *zap.Logger) *Chain {
	return &Chain{steps: steps, logger: logger}
}

// Process 同步执行整条链。任何步骤出错或 panic 都不会向调用方
// 抛出：统一降级为道歉回复，原因记录在日志里。
func (c *Chain) Process(ctx context.Context, req *Request) (resp *types.GenerationResponse) {
	start := time.Now()
	pc := NewProcessingContext(req)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("processing chain panicked",
				zap.Any("panic", r),
				zap.String("session_id", req.SessionID))
			resp = c.apology(pc)
		}
	}()

	for _, step := range c.steps {
		next, err := step.Execute(ctx, pc)
		if err != nil {
			c.logger.Error("processing step failed",
				zap.String("step", step.Name()),
				zap.String("session_id", req.SessionID),
				zap.Error(err))
			return c.apology(pc)
		}
		pc = next
	}

	c.logger.Info("request processed",
		zap.String("session_id", sessionID(pc)),
		zap.String("interaction_type", interactionType(pc)),
		zap.Duration("elapsed", time.Since(start)))

	if pc.Response == nil {
		return c.apology(pc)
	}
	return pc.Response
}

// ProcessAsync 在独立 goroutine 中执行，结果经 channel 返回。
func (c *Chain) ProcessAsync(ctx context.Context, req *Request) <-chan *types.GenerationResponse {
	out := make(chan *types.GenerationResponse, 1)
	go func() {
		defer close(out)
		out <- c.Process(ctx, req)
	}()
	return out
}

func (c *Chain) apology(pc ProcessingContext) *types.GenerationResponse {
	return &types.GenerationResponse{
		Content:   apologyMessage,
		Error:     apologyMessage,
		SessionID: sessionID(pc),
	}
}

func sessionID(pc ProcessingContext) string {
	if pc.Session != nil {
		return pc.Session.ID
	}
	return pc.Request.SessionID
}

func interactionType(pc ProcessingContext) string {
	if pc.Response != nil {
		return pc.Response.InteractionType
	}
	return ""
}
