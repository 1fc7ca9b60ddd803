package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity/engine/internal/config"
	"github.com/verity/engine/internal/core"
	"github.com/verity/engine/internal/store"
)

func newTestRegistry() (*Registry, *store.MemStore) {
	st := store.NewMemStore()
	r := New(st, config.SellersConfig{
		StrikeWindow: 30 * 24 * time.Hour,
		StrikeLimit:  3,
	})
	return r, st
}

func TestRegister_StartsPending(t *testing.T) {
	r, _ := newTestRegistry()

	cred, err := r.Register(context.Background(), RegisterInput{
		SellerID:    "seller-1",
		CompanyName: "Acme Watches",
		TrustToken:  85,
	})
	require.NoError(t, err)

	assert.Equal(t, core.SellerPending, cred.Status)
	assert.Equal(t, 85.0, cred.TrustToken)
	assert.Zero(t, cred.StrikeCount())
}

func TestRegister_ClampsToken(t *testing.T) {
	r, _ := newTestRegistry()

	cred, err := r.Register(context.Background(), RegisterInput{SellerID: "s-hi", TrustToken: 250})
	require.NoError(t, err)
	assert.Equal(t, 100.0, cred.TrustToken)

	cred, err = r.Register(context.Background(), RegisterInput{SellerID: "s-lo", TrustToken: -5})
	require.NoError(t, err)
	assert.Equal(t, 0.0, cred.TrustToken)
}

func TestRegister_Duplicate(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterInput{SellerID: "seller-1"})
	require.NoError(t, err)

	_, err = r.Register(ctx, RegisterInput{SellerID: "seller-1"})
	assert.ErrorIs(t, err, core.ErrDuplicateSeller)
}

func TestRecordStrike_ThirdStrikeAutoRejects(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterInput{SellerID: "seller-1"})
	require.NoError(t, err)

	var rejections []AutoRejection
	r.OnAutoReject(func(rej AutoRejection) { rejections = append(rejections, rej) })

	for i := 1; i <= 2; i++ {
		count, err := r.RecordStrike(ctx, "seller-1")
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}
	assert.Empty(t, rejections, "no rejection below the limit")

	count, err := r.RecordStrike(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.Len(t, rejections, 1)
	assert.Equal(t, "seller-1", rejections[0].SellerID)
	assert.Equal(t, 3, rejections[0].StrikeCount)

	cred, err := r.Get(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, core.SellerRejected, cred.Status)
}

func TestRecordStrike_NoDoubleRejection(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterInput{SellerID: "seller-1"})
	require.NoError(t, err)

	fired := 0
	r.OnAutoReject(func(AutoRejection) { fired++ })

	for i := 0; i < 5; i++ {
		_, err := r.RecordStrike(ctx, "seller-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fired, "an already-rejected seller must not re-emit")
}

func TestRecordStrike_UnknownSeller(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.RecordStrike(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrUnknownSeller)
}

func TestRecordStrike_OldStrikesOutsideWindow(t *testing.T) {
	r, st := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterInput{SellerID: "seller-1"})
	require.NoError(t, err)

	// Two strikes from a previous season, aged out of the window.
	cred, err := st.GetSeller(ctx, "seller-1")
	require.NoError(t, err)
	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	cred.StrikeTimes = []time.Time{old, old.Add(time.Hour)}
	require.NoError(t, st.UpdateSeller(ctx, cred))

	fired := 0
	r.OnAutoReject(func(AutoRejection) { fired++ })

	// Two fresh strikes: lifetime total is 4 but only 2 are in the window.
	_, err = r.RecordStrike(ctx, "seller-1")
	require.NoError(t, err)
	count, err := r.RecordStrike(ctx, "seller-1")
	require.NoError(t, err)

	assert.Equal(t, 4, count, "lifetime count includes aged strikes")
	assert.Zero(t, fired, "aged strikes must not count toward rejection")
}

func TestResetStrikes(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterInput{SellerID: "seller-1"})
	require.NoError(t, err)
	_, err = r.RecordStrike(ctx, "seller-1")
	require.NoError(t, err)

	require.NoError(t, r.ResetStrikes(ctx, "seller-1"))

	cred, err := r.Get(ctx, "seller-1")
	require.NoError(t, err)
	assert.Zero(t, cred.StrikeCount())
}

func TestSetVerificationStatus(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterInput{SellerID: "seller-1"})
	require.NoError(t, err)

	require.NoError(t, r.SetVerificationStatus(ctx, "seller-1", core.SellerVerified))
	cred, err := r.Get(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, core.SellerVerified, cred.Status)

	assert.Error(t, r.SetVerificationStatus(ctx, "seller-1", "banned"), "unknown status must be rejected")
}

func TestFlag_Idempotent(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterInput{SellerID: "seller-1"})
	require.NoError(t, err)

	require.NoError(t, r.Flag(ctx, "seller-1"))
	require.NoError(t, r.Flag(ctx, "seller-1"))

	cred, err := r.Get(ctx, "seller-1")
	require.NoError(t, err)
	assert.True(t, cred.Flagged)
}

func TestSweepExpiredStrikes_RestoresPending(t *testing.T) {
	r, st := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterInput{SellerID: "seller-1"})
	require.NoError(t, err)

	// Auto-rejected on strikes that have since aged out.
	cred, err := st.GetSeller(ctx, "seller-1")
	require.NoError(t, err)
	old := time.Now().UTC().Add(-45 * 24 * time.Hour)
	cred.StrikeTimes = []time.Time{old, old, old}
	cred.Status = core.SellerRejected
	cred.AutoRejected = true
	require.NoError(t, st.UpdateSeller(ctx, cred))

	r.SweepExpiredStrikes(ctx)

	cred, err = r.Get(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, core.SellerPending, cred.Status, "rejection lapses to pending review, not verified")
	assert.False(t, cred.AutoRejected)
}

func TestSweepExpiredStrikes_KeepsManualRejection(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterInput{SellerID: "seller-1"})
	require.NoError(t, err)
	require.NoError(t, r.SetVerificationStatus(ctx, "seller-1", core.SellerRejected))

	r.SweepExpiredStrikes(ctx)

	cred, err := r.Get(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, core.SellerRejected, cred.Status,
		"a moderator's rejection has no strikes to expire and must survive the sweep")
}

func TestSetVerificationStatus_OverridesAutoRejection(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterInput{SellerID: "seller-1"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := r.RecordStrike(ctx, "seller-1")
		require.NoError(t, err)
	}

	// A moderator re-rejects after review; the window lapsing must no
	// longer downgrade the seller.
	require.NoError(t, r.SetVerificationStatus(ctx, "seller-1", core.SellerRejected))

	cred, err := r.Get(ctx, "seller-1")
	require.NoError(t, err)
	assert.False(t, cred.AutoRejected)
}

func TestSweepExpiredStrikes_KeepsActiveRejection(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterInput{SellerID: "seller-1"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := r.RecordStrike(ctx, "seller-1")
		require.NoError(t, err)
	}

	r.SweepExpiredStrikes(ctx)

	cred, err := r.Get(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, core.SellerRejected, cred.Status, "fresh strikes keep the seller rejected")
}
