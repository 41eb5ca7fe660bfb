package payouts

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bensco/susu/internal/shared"
)

func TestNext(t *testing.T) {
	allowed := map[Status]map[Action]Status{
		StatusPending:  {ActionApprove: StatusApproved, ActionReject: StatusRejected},
		StatusApproved: {ActionPay: StatusPaid},
	}
	for _, from := range []Status{StatusPending, StatusApproved, StatusRejected, StatusPaid} {
		for _, action := range []Action{ActionApprove, ActionReject, ActionPay} {
			next, err := Next(from, action)
			if want, ok := allowed[from][action]; ok {
				require.NoError(t, err, "%s --%s-->", from, action)
				assert.Equal(t, want, next)
				continue
			}
			assert.ErrorIs(t, err, shared.ErrStateConflict, "%s --%s-->", from, action)
		}
	}
}

func TestApplyLeavesInputUntouched(t *testing.T) {
	p := Payout{ID: uuid.New(), Status: StatusPending, Version: 1}
	admin := uuid.New()
	at := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)

	rejected, err := Apply(p, ActionReject, admin, "  duplicate request ", at)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, "duplicate request", *rejected.RejectionReason)
	assert.Equal(t, admin, *rejected.ApprovedBy)
	assert.Equal(t, at, *rejected.RejectedAt)

	assert.Equal(t, StatusPending, p.Status)
	assert.Nil(t, p.RejectionReason)
	assert.Nil(t, p.ApprovedBy)

	_, err = Apply(p, ActionPay, admin, "", at)
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestRequestInputValidate(t *testing.T) {
	valid := RequestInput{
		CycleID:    uuid.New(),
		TotalPaid:  decimal.NewFromInt(155),
		Commission: decimal.NewFromInt(5),
		NetPayout:  decimal.NewFromInt(150),
	}
	require.NoError(t, valid.Validate())

	cases := map[string]func(in *RequestInput){
		"missing cycle":       func(in *RequestInput) { in.CycleID = uuid.Nil },
		"zero total":          func(in *RequestInput) { in.TotalPaid = decimal.Zero },
		"negative commission": func(in *RequestInput) { in.Commission = decimal.NewFromInt(-1) },
		"negative net":        func(in *RequestInput) { in.NetPayout = decimal.NewFromInt(-150) },
		"unbalanced":          func(in *RequestInput) { in.NetPayout = decimal.NewFromInt(149) },
		"sub-cent total": func(in *RequestInput) {
			in.TotalPaid = decimal.RequireFromString("155.005")
			in.NetPayout = decimal.RequireFromString("150.005")
		},
		"sub-cent commission": func(in *RequestInput) {
			in.Commission = decimal.RequireFromString("5.001")
			in.NetPayout = decimal.RequireFromString("149.999")
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			assert.ErrorIs(t, in.Validate(), shared.ErrValidation)
		})
	}
}
