package transaction

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tx, err := New(uuid.New(), "acme", "globex", "pallet", "PAL-1", 10, nil, 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, StateInitiated, tx.State)
		assert.Equal(t, 10, tx.Quantity)
		require.NotNil(t, tx.TimeoutDeadline)
		assert.WithinDuration(t, tx.CreatedAt.Add(48*time.Hour), *tx.TimeoutDeadline, time.Second)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		cases := []struct {
			name     string
			sender   string
			receiver string
			itemType string
			qty      int
		}{
			{"empty sender", "", "globex", "pallet", 1},
			{"empty receiver", "acme", "  ", "pallet", 1},
			{"same parties", "acme", "acme", "pallet", 1},
			{"zero quantity", "acme", "globex", "pallet", 0},
			{"negative quantity", "acme", "globex", "pallet", -3},
			{"empty item type", "acme", "globex", "", 1},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := New(uuid.New(), tc.sender, tc.receiver, tc.itemType, "", tc.qty, nil, time.Hour)
				assert.ErrorIs(t, err, ErrValidationFailed)
			})
		}
	})
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from State
		to   State
		ok   bool
	}{
		{StateInitiated, StateSent, true},
		{StateInitiated, StateValidated, true},
		{StateInitiated, StateDisputed, true},
		{StateInitiated, StateTimeout, true},
		{StateInitiated, StateReceived, false},
		{StateSent, StateReceived, true},
		{StateSent, StateDisputed, true},
		{StateSent, StateTimeout, true},
		{StateSent, StateValidated, false},
		{StateReceived, StateValidated, true},
		{StateReceived, StateDisputed, true},
		{StateReceived, StateTimeout, false},
		{StateDisputed, StateResolved, true},
		{StateDisputed, StateValidated, true},
		{StateDisputed, StateCancelled, true},
		{StateValidated, StateDisputed, false},
		{StateTimeout, StateSent, false},
		{StateResolved, StateValidated, false},
		{StateCancelled, StateInitiated, false},
	}
	for _, tc := range cases {
		tx := &Transaction{State: tc.from}
		assert.Equal(t, tc.ok, tx.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []State{StateValidated, StateResolved, StateCancelled, StateTimeout}
	for _, st := range terminal {
		assert.True(t, (&Transaction{State: st}).IsTerminal(), string(st))
	}
	live := []State{StateInitiated, StateSent, StateReceived, StateDisputed}
	for _, st := range live {
		assert.False(t, (&Transaction{State: st}).IsTerminal(), string(st))
	}
}

func TestCanDispute(t *testing.T) {
	for _, st := range []State{StateInitiated, StateSent, StateReceived} {
		tx := &Transaction{State: st}
		assert.True(t, tx.CanDispute(), string(st))
	}
	for _, st := range []State{StateValidated, StateTimeout, StateResolved, StateCancelled, StateDisputed} {
		tx := &Transaction{State: st}
		assert.False(t, tx.CanDispute(), string(st))
	}

	withDispute := &Transaction{State: StateSent, Dispute: NewDisputeMeta("acme", ReasonNotReceived, 1)}
	assert.False(t, withDispute.CanDispute(), "one open dispute per transaction")
}

func TestPartyHelpers(t *testing.T) {
	tx := &Transaction{Sender: "acme", Receiver: "globex"}

	assert.True(t, tx.IsParty("acme"))
	assert.True(t, tx.IsParty("globex"))
	assert.False(t, tx.IsParty("initech"))

	assert.Equal(t, "globex", tx.CounterpartyOf("acme"))
	assert.Equal(t, "acme", tx.CounterpartyOf("globex"))
	assert.Equal(t, "", tx.CounterpartyOf("initech"))
}

func TestTimeoutEligible(t *testing.T) {
	deadline := time.Now().UTC().Add(time.Hour)

	assert.True(t, (&Transaction{State: StateInitiated, TimeoutDeadline: &deadline}).TimeoutEligible())
	assert.True(t, (&Transaction{State: StateSent, TimeoutDeadline: &deadline}).TimeoutEligible())
	assert.False(t, (&Transaction{State: StateReceived, TimeoutDeadline: &deadline}).TimeoutEligible())
	assert.False(t, (&Transaction{State: StateSent}).TimeoutEligible(), "cleared deadline")
}

func TestMeta(t *testing.T) {
	tx := &Transaction{}
	assert.False(t, tx.MetaFlag(MetaKeySkipEvidence))

	tx.SetMeta(MetaKeySkipEvidence, "true")
	assert.True(t, tx.MetaFlag(MetaKeySkipEvidence))

	tx.SetMeta(MetaKeyCarrier, "freightco")
	assert.False(t, tx.MetaFlag(MetaKeyCarrier), "non-boolean values are not flags")
	assert.Equal(t, "freightco", tx.Metadata[MetaKeyCarrier])
}
