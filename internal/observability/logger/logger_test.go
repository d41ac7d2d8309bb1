package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSamplingNeverDropsWarnings(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(sampleBelowWarn(core, Config{SamplingInitial: 1, SamplingThereafter: 1000}))

	for i := 0; i < 5; i++ {
		log.Info("recompute_done")
		log.Warn("consistency_violation")
	}

	assert.Equal(t, 1, logs.FilterMessage("recompute_done").Len())
	assert.Equal(t, 5, logs.FilterMessage("consistency_violation").Len())
}
