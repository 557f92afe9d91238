package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/countersign/countersign/signature"
)

func TestWaitForConsensusReachesBothSigned(t *testing.T) {
	states := []signature.State{
		{AwaitingCreator: true, AwaitingCounterparty: true},
		{AwaitingCounterparty: true},
		{BothSigned: true},
	}
	i := 0
	fetch := func() (signature.State, error) {
		st := states[i]
		if i < len(states)-1 {
			i++
		}
		return st, nil
	}

	st, err := waitForConsensus(context.Background(), fetch, time.Millisecond, time.Second)
	assert.Nil(t, err)
	assert.True(t, st.BothSigned)
}

func TestWaitForConsensusTimesOut(t *testing.T) {
	fetch := func() (signature.State, error) {
		return signature.State{AwaitingCounterparty: true}, nil
	}

	st, err := waitForConsensus(context.Background(), fetch, time.Millisecond*10, time.Millisecond*50)
	assert.ErrorIs(t, err, ErrConsensusTimeout)
	assert.False(t, st.BothSigned)
}

func TestWaitForConsensusRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetch := func() (signature.State, error) {
		cancel()
		return signature.State{AwaitingCounterparty: true}, nil
	}

	_, err := waitForConsensus(ctx, fetch, time.Millisecond*5, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForConsensusBacksOffOnErrors(t *testing.T) {
	calls := 0
	fetch := func() (signature.State, error) {
		calls++
		return signature.State{}, errors.New("connection refused")
	}

	start := time.Now()
	_, err := waitForConsensus(context.Background(), fetch, time.Millisecond*5, time.Millisecond*100)
	assert.ErrorIs(t, err, ErrConsensusTimeout)
	assert.True(t, time.Since(start) < time.Second)
	// 10ms, 20ms, 40ms doubling eats the window in a few attempts
	assert.Less(t, calls, 6)
}
