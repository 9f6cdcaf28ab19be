package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Classifyf(KindValidation, "bad")))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("call: %w", context.Canceled)))
	assert.Equal(t, KindCircuitOpen, KindOf(fmt.Errorf("publish: %w", ErrCircuitOpen)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := Classifyf(KindDownstreamTransient, "deadlock detected")
	wrapped := fmt.Errorf("coldpath: flush: %w", inner)
	assert.Equal(t, KindDownstreamTransient, KindOf(wrapped))
	assert.True(t, Transient(wrapped))
	assert.False(t, Transient(Classifyf(KindDownstreamPermanent, "constraint")))
}

func TestReasonForKind(t *testing.T) {
	assert.Equal(t, ReasonDeserialization, ReasonForKind(KindDeserialization))
	assert.Equal(t, ReasonValidation, ReasonForKind(KindValidation))
	assert.Equal(t, ReasonTimeout, ReasonForKind(KindTimeout))
	assert.Equal(t, ReasonDownstream, ReasonForKind(KindDownstreamTransient))
	assert.Equal(t, ReasonDownstream, ReasonForKind(KindCircuitOpen))
	assert.Equal(t, ReasonProcessing, ReasonForKind(KindInternal))
}
