package market

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/buildmarket/pkg/capability"
	"github.com/Mindburn-Labs/buildmarket/pkg/escrow"
	"github.com/Mindburn-Labs/buildmarket/pkg/identity"
	"github.com/Mindburn-Labs/buildmarket/pkg/job"
	"github.com/Mindburn-Labs/buildmarket/pkg/ledger"
	"github.com/Mindburn-Labs/buildmarket/pkg/policy"
	"github.com/Mindburn-Labs/buildmarket/pkg/profile"
	"github.com/Mindburn-Labs/buildmarket/pkg/store"
)

const (
	contractor identity.Address = "contractor"
	worker     identity.Address = "worker"
	rival      identity.Address = "rival"
)

type harness struct {
	svc   *Service
	vault *escrow.MemoryVault
	admin *capability.AdminCapability
	now   atomic.Int64 // ms
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	keys, err := capability.GenerateKeyring()
	require.NoError(t, err)
	auth := capability.NewAuthority(keys)
	admin, err := auth.MintAdmin()
	require.NoError(t, err)

	h := &harness{vault: escrow.NewMemoryVault(), admin: admin}
	seq := 0
	var mu sync.Mutex
	opts = append([]Option{
		WithClock(func() time.Time { return time.UnixMilli(h.now.Load()).UTC() }),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	}, opts...)
	h.svc = New(store.NewMemoryStore(), h.vault, auth, opts...)
	return h
}

func as(a identity.Address) context.Context {
	return identity.WithCaller(context.Background(), a)
}

func (h *harness) balance(t *testing.T, a identity.Address) int64 {
	t.Helper()
	b, err := h.vault.Balance(context.Background(), a)
	require.NoError(t, err)
	return b
}

// openJob creates the reference job (budget 100, 1000ms) with one bid from worker.
func (h *harness) openJob(t *testing.T) (*job.Job, *capability.JobCapability) {
	t.Helper()
	_, err := h.svc.Deposit(as(contractor), 150)
	require.NoError(t, err)

	j, c, err := h.svc.CreateJob(as(contractor), job.Params{
		Description: "kitchen refit",
		ProjectType: "residential",
		Budget:      100,
		Duration:    1000 * time.Millisecond,
	})
	require.NoError(t, err)

	p, err := h.svc.CreateWorkerProfile(as(worker), j.ID(), "two carpenters")
	require.NoError(t, err)
	require.NoError(t, h.svc.BidWork(as(worker), j.ID(), p.ID))
	return j, c
}

func TestScenarioConfirmPaysWorker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j, c := h.openJob(t)

	_, err := h.svc.SelectWorker(as(contractor), c, j.ID(), 150, worker)
	require.NoError(t, err)

	got, err := h.svc.GetJob(ctx, j.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.Escrow())
	assert.Equal(t, job.StatusClosed, got.Status())
	require.NoError(t, h.svc.CheckCustody(ctx))

	h.now.Store(500)
	require.NoError(t, h.svc.SubmitWork(as(worker), j.ID()))

	payout, err := h.svc.ConfirmWork(as(contractor), c, j.ID())
	require.NoError(t, err)
	assert.Equal(t, job.Payout{To: worker, Amount: 150}, payout)

	got, err = h.svc.GetJob(ctx, j.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Escrow())
	assert.Equal(t, job.StatusPaid, got.Status())
	assert.Equal(t, int64(150), h.balance(t, worker))
	assert.Equal(t, int64(0), h.balance(t, contractor))
	require.NoError(t, h.svc.CheckCustody(ctx))

	_, err = h.svc.ConfirmWork(as(contractor), c, j.ID())
	require.ErrorIs(t, err, job.ErrAlreadySettled)
	assert.Equal(t, int64(150), h.balance(t, worker))

	require.NoError(t, h.svc.RateWork(as(contractor), c, j.ID(), 5))
	got, err = h.svc.GetJob(ctx, j.ID())
	require.NoError(t, err)
	r, ok := got.Rating()
	assert.True(t, ok)
	assert.Equal(t, 5, r)

	require.NoError(t, h.svc.Ledger().Verify())
}

func TestScenarioDisputeRefundsContractor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j, c := h.openJob(t)
	_, err := h.svc.SelectWorker(as(contractor), c, j.ID(), 150, worker)
	require.NoError(t, err)

	h.now.Store(999)
	_, err = h.svc.FileComplaint(as(contractor), j.ID(), "no show")
	require.ErrorIs(t, err, job.ErrTooEarly)

	h.now.Store(1500)
	complaint, err := h.svc.FileComplaint(as(contractor), j.ID(), "no show")
	require.NoError(t, err)
	assert.Equal(t, worker, complaint.Worker)

	got, err := h.svc.GetJob(ctx, j.ID())
	require.NoError(t, err)
	assert.True(t, got.Disputed())

	payout, err := h.svc.ResolveDispute(ctx, h.admin, j.ID(), complaint.ID, false)
	require.NoError(t, err)
	assert.Equal(t, job.Payout{To: contractor, Amount: 150}, payout)
	assert.Equal(t, int64(150), h.balance(t, contractor))

	got, err = h.svc.GetJob(ctx, j.ID())
	require.NoError(t, err)
	assert.False(t, got.Disputed())
	assert.Equal(t, job.StatusResolvedToContractor, got.Status())

	complaints, err := h.svc.ListComplaints(ctx, j.ID())
	require.NoError(t, err)
	require.Len(t, complaints, 1)
	assert.True(t, complaints[0].Resolved)
	assert.False(t, complaints[0].Decision)
	require.NoError(t, h.svc.CheckCustody(ctx))
}

func TestScenarioDisputeToWorker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j, c := h.openJob(t)
	_, err := h.svc.SelectWorker(as(contractor), c, j.ID(), 150, worker)
	require.NoError(t, err)
	h.now.Store(500)
	require.NoError(t, h.svc.SubmitWork(as(worker), j.ID()))

	h.now.Store(2000)
	complaint, err := h.svc.FileComplaint(as(worker), j.ID(), "not confirmed")
	require.NoError(t, err)

	payout, err := h.svc.ResolveDispute(ctx, h.admin, j.ID(), complaint.ID, true)
	require.NoError(t, err)
	assert.Equal(t, worker, payout.To)
	assert.Equal(t, int64(150), h.balance(t, worker))

	_, err = h.svc.FileComplaint(as(worker), j.ID(), "again")
	require.ErrorIs(t, err, job.ErrAlreadySettled)
	_, err = h.svc.ResolveDispute(ctx, h.admin, j.ID(), complaint.ID, false)
	require.ErrorIs(t, err, job.ErrAlreadySettled)
	require.NoError(t, h.svc.CheckCustody(ctx))
}

func TestScenarioBidAfterSelection(t *testing.T) {
	h := newHarness(t)
	j, c := h.openJob(t)
	_, err := h.svc.SelectWorker(as(contractor), c, j.ID(), 150, worker)
	require.NoError(t, err)

	p, err := h.svc.CreateWorkerProfile(as(rival), j.ID(), "late")
	require.NoError(t, err)
	err = h.svc.BidWork(as(rival), j.ID(), p.ID)
	require.ErrorIs(t, err, job.ErrJobClosed)

	// The rejected bid leaves the profile with its owner.
	_, err = h.svc.GetProfile(context.Background(), p.ID)
	require.NoError(t, err)
}

func TestScenarioInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j, c := h.openJob(t)

	_, err := h.svc.SelectWorker(as(contractor), c, j.ID(), 50, worker)
	require.ErrorIs(t, err, job.ErrInsufficientFunds)

	got, err := h.svc.GetJob(ctx, j.ID())
	require.NoError(t, err)
	assert.Equal(t, job.StatusOpen, got.Status())
	assert.Equal(t, int64(0), got.Escrow())
	assert.Equal(t, []identity.Address{worker}, got.Bidders())
	assert.Equal(t, int64(150), h.balance(t, contractor))
	require.NoError(t, h.svc.CheckCustody(ctx))
}

func TestSelectWorkerNeedsAccountFunds(t *testing.T) {
	h := newHarness(t)
	j, c := h.openJob(t)

	_, err := h.svc.SelectWorker(as(contractor), c, j.ID(), 200, worker)
	require.ErrorIs(t, err, escrow.ErrInsufficientBalance)

	got, err := h.svc.GetJob(context.Background(), j.ID())
	require.NoError(t, err)
	assert.Equal(t, job.StatusOpen, got.Status())
}

func TestSelectWorkerRejectsForeignCapability(t *testing.T) {
	h := newHarness(t)
	j, _ := h.openJob(t)

	keys, err := capability.GenerateKeyring()
	require.NoError(t, err)
	forged, err := capability.NewAuthority(keys).MintJob(j.ID())
	require.NoError(t, err)

	_, err = h.svc.SelectWorker(as(contractor), forged, j.ID(), 150, worker)
	require.ErrorIs(t, err, job.ErrInvalidCapability)
	assert.Equal(t, int64(150), h.balance(t, contractor))
}

func TestConcurrentSelectionsPickOneWorker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Deposit(as(contractor), 1000)
	require.NoError(t, err)
	j, c, err := h.svc.CreateJob(as(contractor), job.Params{Budget: 100, Duration: time.Second})
	require.NoError(t, err)

	bidders := []identity.Address{"b1", "b2", "b3", "b4"}
	for _, b := range bidders {
		p, err := h.svc.CreateWorkerProfile(as(b), j.ID(), "")
		require.NoError(t, err)
		require.NoError(t, h.svc.BidWork(as(b), j.ID(), p.ID))
	}

	var wg sync.WaitGroup
	var wins atomic.Int32
	for _, b := range bidders {
		wg.Add(1)
		go func(b identity.Address) {
			defer wg.Done()
			if _, err := h.svc.SelectWorker(as(contractor), c, j.ID(), 100, b); err == nil {
				wins.Add(1)
			}
		}(b)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int64(900), h.balance(t, contractor))
	require.NoError(t, h.svc.CheckCustody(ctx))
}

func TestBidsRacingSelectionAreNeitherLostNorDuplicated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j, c := h.openJob(t)

	late := []identity.Address{"l1", "l2", "l3", "l4", "l5", "l6", "l7", "l8"}
	profiles := make(map[identity.Address]string, len(late))
	for _, b := range late {
		p, err := h.svc.CreateWorkerProfile(as(b), j.ID(), "")
		require.NoError(t, err)
		profiles[b] = p.ID
	}

	var wg sync.WaitGroup
	bidErrs := make(map[identity.Address]error, len(late))
	var mu sync.Mutex
	for _, b := range late {
		wg.Add(1)
		go func(b identity.Address) {
			defer wg.Done()
			err := h.svc.BidWork(as(b), j.ID(), profiles[b])
			mu.Lock()
			bidErrs[b] = err
			mu.Unlock()
		}(b)
	}
	var selectErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, selectErr = h.svc.SelectWorker(as(contractor), c, j.ID(), 150, worker)
	}()
	wg.Wait()
	require.NoError(t, selectErr)

	got, err := h.svc.GetJob(ctx, j.ID())
	require.NoError(t, err)
	assert.Equal(t, worker, got.Worker())
	bidders := got.Bidders()

	landed := 0
	for _, b := range late {
		_, storeErr := h.svc.GetProfile(ctx, profiles[b])
		if bidErrs[b] == nil {
			landed++
			assert.Contains(t, bidders, b)
			assert.ErrorIs(t, storeErr, store.ErrNotFound, "%s: profile moved into the job", b)
			continue
		}
		assert.ErrorIs(t, bidErrs[b], job.ErrJobClosed, "%s", b)
		assert.NotContains(t, bidders, b)
		assert.NoError(t, storeErr, "%s: rejected bid keeps its profile", b)
	}
	assert.Len(t, bidders, landed)
	assert.Equal(t, int64(150), got.Escrow())
	require.NoError(t, h.svc.CheckCustody(ctx))
}

func TestBidRules(t *testing.T) {
	h := newHarness(t)
	j, _ := h.openJob(t)

	p, err := h.svc.CreateWorkerProfile(as(worker), j.ID(), "second")
	require.NoError(t, err)
	require.ErrorIs(t, h.svc.BidWork(as(worker), j.ID(), p.ID), job.ErrDuplicateBid)

	require.ErrorIs(t, h.svc.BidWork(as(rival), j.ID(), p.ID), profile.ErrNotOwner)
	require.ErrorIs(t, h.svc.BidWork(as(rival), j.ID(), "missing"), store.ErrNotFound)
	require.ErrorIs(t, h.svc.BidWork(context.Background(), j.ID(), p.ID), identity.ErrNoCaller)
}

func TestBidPolicy(t *testing.T) {
	bp, err := policy.NewBidPolicy(`job.required_skills.all(s, s in profile.skills)`)
	require.NoError(t, err)
	h := newHarness(t, WithBidPolicy(bp))

	j, _, err := h.svc.CreateJob(as(contractor), job.Params{
		Budget:         10,
		Duration:       time.Second,
		RequiredSkills: []string{"Welding"},
	})
	require.NoError(t, err)

	p, err := h.svc.CreateWorkerProfile(as(worker), j.ID(), "")
	require.NoError(t, err)
	require.ErrorIs(t, h.svc.BidWork(as(worker), j.ID(), p.ID), policy.ErrBidRejected)

	_, err = h.svc.AddSkill(as(worker), p.ID, "welding")
	require.NoError(t, err)
	require.NoError(t, h.svc.BidWork(as(worker), j.ID(), p.ID))
}

func TestAddSkill(t *testing.T) {
	h := newHarness(t)
	p, err := h.svc.CreateWorkerProfile(as(worker), "job-x", "")
	require.NoError(t, err)

	got, err := h.svc.AddSkill(as(worker), p.ID, "Drywall")
	require.NoError(t, err)
	assert.Equal(t, []string{"drywall"}, got.Skills)

	_, err = h.svc.AddSkill(as(worker), p.ID, "drywall")
	require.ErrorIs(t, err, profile.ErrInvalidSkill)
	_, err = h.svc.AddSkill(as(rival), p.ID, "paint")
	require.ErrorIs(t, err, profile.ErrNotOwner)
}

func TestSubmitAndConfirmGuards(t *testing.T) {
	h := newHarness(t)
	j, c := h.openJob(t)
	_, err := h.svc.SelectWorker(as(contractor), c, j.ID(), 150, worker)
	require.NoError(t, err)

	_, err = h.svc.ConfirmWork(as(contractor), c, j.ID())
	require.ErrorIs(t, err, job.ErrWorkNotSubmitted)

	require.ErrorIs(t, h.svc.SubmitWork(as(rival), j.ID()), job.ErrWrongCaller)

	h.now.Store(1000)
	require.ErrorIs(t, h.svc.SubmitWork(as(worker), j.ID()), job.ErrDeadlinePassed)
}

func TestResolveDisputeGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j, c := h.openJob(t)
	_, err := h.svc.SelectWorker(as(contractor), c, j.ID(), 150, worker)
	require.NoError(t, err)

	_, err = h.svc.ResolveDispute(ctx, nil, j.ID(), "c", true)
	require.ErrorIs(t, err, capability.ErrInvalid)

	_, err = h.svc.ResolveDispute(ctx, h.admin, j.ID(), "missing", true)
	require.ErrorIs(t, err, store.ErrNotFound)

	h.now.Store(1001)
	_, err = h.svc.FileComplaint(as(rival), j.ID(), "meddling")
	require.ErrorIs(t, err, job.ErrWrongCaller)
}

func TestCreateJobValidation(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.svc.CreateJob(as(contractor), job.Params{Budget: 1})
	require.ErrorIs(t, err, job.ErrInvalidDuration)

	_, _, err = h.svc.CreateJob(context.Background(), job.Params{Budget: 1, Duration: time.Second})
	require.ErrorIs(t, err, identity.ErrNoCaller)

	jobs, err := h.svc.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestLedgerRecordsLifecycle(t *testing.T) {
	h := newHarness(t)
	j, c := h.openJob(t)
	_, err := h.svc.SelectWorker(as(contractor), c, j.ID(), 150, worker)
	require.NoError(t, err)

	var types []string
	for _, e := range h.svc.Ledger().Entries(0, j.ID()) {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		ledger.EventJobCreated,
		ledger.EventCapabilityMinted,
		ledger.EventProfileCreated,
		ledger.EventBidPlaced,
		ledger.EventWorkerSelected,
	}, types)
}
