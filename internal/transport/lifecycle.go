package transport

import (
	"context"
	"sync"

	"github.com/1ureka/callcore/internal/util"
)

const inboundBufferSize = 256

// lifecycle is the state both variants share: the Task context, the inbound
// frame queue and the reason the Task ended.
type lifecycle struct {
	ctx     context.Context
	cancel  context.CancelFunc
	inbound chan []byte
	stats   *util.Stats

	mu  sync.Mutex
	err error
}

func (l *lifecycle) init(stats *util.Stats) {
	if stats == nil {
		stats = &util.Stats{}
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.inbound = make(chan []byte, inboundBufferSize)
	l.stats = stats
}

// fail ends the Task. Only the first reason is kept.
func (l *lifecycle) fail(err error) {
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
	l.cancel()
}

func (l *lifecycle) reason() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// deliver queues an inbound frame. It blocks while the consumer is behind
// and gives up once the Task has ended.
func (l *lifecycle) deliver(data []byte) {
	l.stats.AddRecv(len(data))
	select {
	case l.inbound <- data:
	case <-l.ctx.Done():
	}
}
