package groutine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestGo_NamesContext(t *testing.T) {
	got := make(chan string, 1)
	Go(context.Background(), "op-queue", func(ctx context.Context) {
		got <- GetName(ctx)
	})

	select {
	case name := <-got:
		assert.Equal(t, "op-queue", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}

	assert.Equal(t, "", GetName(context.Background()))
}

func TestGroup_WaitsAndRecovers(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	g := NewGroup(logger)
	var ran atomic.Int32

	g.Go(context.Background(), "ok", func(ctx context.Context) {
		time.Sleep(5 * time.Millisecond)
		ran.Add(1)
	})
	g.Go(context.Background(), "boom", func(ctx context.Context) {
		ran.Add(1)
		panic("boom")
	})

	g.Wait()
	assert.Equal(t, int32(2), ran.Load(), "Wait MUST return only after every member finished, panics included")
}
