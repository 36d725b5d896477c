package discount

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDiscountRepo struct {
	rule       *Rule
	err        error
	lookups    int
	lastLookup string
}

func (m *mockDiscountRepo) FindByCode(_ context.Context, code string) (*Rule, error) {
	m.lookups++
	m.lastLookup = code
	return m.rule, m.err
}

func (m *mockDiscountRepo) Upsert(_ context.Context, _ *Rule) error {
	return nil
}

func intPtr(v int) *int { return &v }

func TestRepoValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2026, 3, 14, 19, 30, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name       string
		rule       *Rule
		repoErr    error
		subtotal   string
		wantAmount string
		wantReason Reason
	}{
		{
			name: "percentage code above minimum",
			rule: &Rule{
				ID: "d1", Code: "SAVE10", Type: TypePercentage, Value: decimal.NewFromInt(10),
				MinimumOrderAmount: decimal.NewFromInt(400), Active: true,
			},
			subtotal:   "500.00",
			wantAmount: "50.00",
		},
		{
			name: "below minimum order amount",
			rule: &Rule{
				ID: "d1", Code: "SAVE10", Type: TypePercentage, Value: decimal.NewFromInt(10),
				MinimumOrderAmount: decimal.NewFromInt(600), Active: true,
			},
			subtotal:   "500.00",
			wantReason: ReasonBelowMinimum,
		},
		{
			name:       "unknown code",
			repoErr:    ErrNotFound,
			subtotal:   "500.00",
			wantReason: ReasonNotFound,
		},
		{
			name: "inactive code",
			rule: &Rule{
				Code: "OFF", Type: TypeFixed, Value: decimal.NewFromInt(5), Active: false,
			},
			subtotal:   "100",
			wantReason: ReasonInactive,
		},
		{
			name: "not yet valid",
			rule: &Rule{
				Code: "SOON", Type: TypeFixed, Value: decimal.NewFromInt(5), Active: true, ValidFrom: &futureTime,
			},
			subtotal:   "100",
			wantReason: ReasonInactive,
		},
		{
			name: "expired",
			rule: &Rule{
				Code: "OLD", Type: TypePercentage, Value: decimal.NewFromInt(10), Active: true, ExpiresAt: &pastTime,
			},
			subtotal:   "100",
			wantReason: ReasonExpired,
		},
		{
			name: "expires exactly now",
			rule: &Rule{
				Code: "EDGE", Type: TypePercentage, Value: decimal.NewFromInt(10), Active: true, ExpiresAt: &fixedNow,
			},
			subtotal:   "100",
			wantReason: ReasonExpired,
		},
		{
			name: "usage exhausted",
			rule: &Rule{
				Code: "LIMITED", Type: TypePercentage, Value: decimal.NewFromInt(10), Active: true,
				MaxUses: intPtr(100), Uses: 100,
			},
			subtotal:   "100",
			wantReason: ReasonExhausted,
		},
		{
			name: "usage under limit",
			rule: &Rule{
				Code: "HASROOM", Type: TypePercentage, Value: decimal.NewFromInt(10), Active: true,
				MaxUses: intPtr(100), Uses: 99, ExpiresAt: &futureTime,
			},
			subtotal:   "100",
			wantAmount: "10",
		},
		{
			name: "unlimited uses",
			rule: &Rule{
				Code: "FOREVER", Type: TypeFixed, Value: decimal.NewFromInt(5), Active: true, Uses: 9999,
			},
			subtotal:   "100",
			wantAmount: "5",
		},
		{
			name: "fixed amount clamped to subtotal",
			rule: &Rule{
				Code: "BIG", Type: TypeFixed, Value: decimal.NewFromInt(500), Active: true,
			},
			subtotal:   "120.50",
			wantAmount: "120.50",
		},
		{
			name: "percentage above 100 clamped",
			rule: &Rule{
				Code: "DOUBLE", Type: TypePercentage, Value: decimal.NewFromInt(200), Active: true,
			},
			subtotal:   "80",
			wantAmount: "80",
		},
		{
			name: "percentage capped by max discount",
			rule: &Rule{
				Code: "CAP", Type: TypePercentage, Value: decimal.NewFromInt(50), Active: true,
				MaxDiscount: decimal.NewFromInt(30),
			},
			subtotal:   "100",
			wantAmount: "30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockDiscountRepo{rule: tt.rule, err: tt.repoErr}
			v := NewRepoValidator(repo)
			v.now = func() time.Time { return fixedNow }

			got, err := v.Validate(context.Background(), "code", decimal.RequireFromString(tt.subtotal))

			if tt.wantReason != "" {
				var inErr *IneligibleError
				require.ErrorAs(t, err, &inErr)
				assert.Equal(t, tt.wantReason, inErr.Reason)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
			want := decimal.RequireFromString(tt.wantAmount)
			assert.True(t, want.Equal(got.Amount), "expected amount %s, got %s", want, got.Amount)
			assert.Equal(t, tt.rule.Code, got.Code)
			assert.Equal(t, tt.rule.ID, got.DiscountCodeID)
		})
	}
}

func TestRepoValidator_ReasonText(t *testing.T) {
	repo := &mockDiscountRepo{rule: &Rule{
		Code: "SAVE10", Type: TypePercentage, Value: decimal.NewFromInt(10),
		MinimumOrderAmount: decimal.NewFromInt(600), Active: true,
	}}

	_, err := NewRepoValidator(repo).Validate(context.Background(), "SAVE10", decimal.NewFromInt(500))

	var inErr *IneligibleError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, "below minimum order amount", string(inErr.Reason))
}

func TestRepoValidator_RepeatedValidationDoesNotConsume(t *testing.T) {
	repo := &mockDiscountRepo{rule: &Rule{
		Code: "ONCE", Type: TypeFixed, Value: decimal.NewFromInt(5), Active: true,
		MaxUses: intPtr(1), Uses: 0,
	}}
	v := NewRepoValidator(repo)

	for range 3 {
		_, err := v.Validate(context.Background(), "ONCE", decimal.NewFromInt(50))
		require.NoError(t, err)
	}
	assert.Equal(t, 0, repo.rule.Uses)
	assert.Equal(t, 3, repo.lookups)
}

func TestRepoValidator_EmptyCode(t *testing.T) {
	repo := &mockDiscountRepo{}

	_, err := NewRepoValidator(repo).Validate(context.Background(), "   ", decimal.NewFromInt(50))

	var inErr *IneligibleError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, ReasonNotFound, inErr.Reason)
	assert.Zero(t, repo.lookups)
}

func TestRepoValidator_RepositoryError(t *testing.T) {
	repo := &mockDiscountRepo{err: errors.New("connection reset")}

	_, err := NewRepoValidator(repo).Validate(context.Background(), "SAVE10", decimal.NewFromInt(50))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup discount code")
	var inErr *IneligibleError
	assert.False(t, errors.As(err, &inErr))
}

func TestRule_UnsupportedType(t *testing.T) {
	r := &Rule{Code: "X", Type: Type("bogo"), Active: true}

	_, err := r.Amount(decimal.NewFromInt(10))
	require.Error(t, err)
}
