package splitflow_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/splitflow"
	"github.com/BaSui01/splitflow/experiment"
	"github.com/BaSui01/splitflow/ledger"
)

func TestCoreEndToEnd(t *testing.T) {
	core, err := splitflow.New()
	require.NoError(t, err)
	ctx := context.Background()

	exp, err := core.Registry.Create(ctx, &experiment.Experiment{
		Name:     "checkout price test",
		Category: experiment.CategoryPricePoint,
		Variants: []experiment.Variant{
			{Weight: 0.5, Payload: experiment.PricePayload{PriceCents: 999}},
			{Weight: 0.5, Payload: experiment.PricePayload{PriceCents: 1299}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, core.Registry.Start(ctx, exp.ID))

	for i := 0; i < 100; i++ {
		subject := fmt.Sprintf("user-%d", i)
		placement, err := core.Engine.Assign(ctx, exp.ID, subject, nil)
		require.NoError(t, err)

		if i%5 == 0 {
			price := placement.Variant.Payload.(experiment.PricePayload)
			_, err = core.Ledger.Record(ctx, exp.ID, subject, ledger.TypePurchase,
				float64(price.PriceCents)/100, nil)
			require.NoError(t, err)
		}
	}

	rep, err := core.Reporter.Generate(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, rep.Summary.TotalAssignments)
	assert.Len(t, rep.Performance, 2)
	assert.Equal(t, 20, rep.Performance[0].Conversions+rep.Performance[1].Conversions)
}
