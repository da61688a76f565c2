package task

import (
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	delay := ExponentialBackoff(30 * time.Second)
	task := asynq.NewTask("order:validate", nil)
	err := errors.New("timeout")

	require.Equal(t, 30*time.Second, delay(0, err, task))
	require.Equal(t, 60*time.Second, delay(1, err, task))
	require.Equal(t, 120*time.Second, delay(2, err, task))
	require.Equal(t, 30*time.Second, delay(-1, err, task))
}

func TestExponentialBackoffDefaultsBase(t *testing.T) {
	delay := ExponentialBackoff(0)
	require.Equal(t, 30*time.Second, delay(0, nil, nil))
}

func TestExponentialBackoffCapsShift(t *testing.T) {
	delay := ExponentialBackoff(time.Second)
	require.Equal(t, delay(maxBackoffShift, nil, nil), delay(maxBackoffShift+10, nil, nil))
}
