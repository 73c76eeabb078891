package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/utiliko/billing/internal/consumption/domain"
)

func TestClassify_InsufficientData(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	meter := newMeter(t, db, node, orgID, false)

	// Two same-month samples are below the minimum of three.
	addReading(t, db, node, meter, 100, nil, time.Date(2023, time.March, 15, 0, 0, 0, 0, time.UTC))
	addReading(t, db, node, meter, 100, nil, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC))

	classification, err := svc.Classify(context.Background(), meter, 100, marchStart)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInsufficientData, classification.Status)
}

func TestClassify_Normal(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	meter := newMeter(t, db, node, orgID, false)

	for year := 2022; year <= 2024; year++ {
		addReading(t, db, node, meter, 100, nil, time.Date(year, time.March, 15, 0, 0, 0, 0, time.UTC))
	}

	classification, err := svc.Classify(context.Background(), meter, 110, marchStart)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNormal, classification.Status)
	assert.Equal(t, 10.0, classification.VariancePercent)
	assert.Equal(t, 100.0, classification.HistoricalAverage)
}

func TestClassify_HighVariance(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	meter := newMeter(t, db, node, orgID, false)

	for year := 2022; year <= 2024; year++ {
		addReading(t, db, node, meter, 100, nil, time.Date(year, time.March, 15, 0, 0, 0, 0, time.UTC))
	}

	classification, err := svc.Classify(context.Background(), meter, 160, marchStart)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHighVariance, classification.Status)
	assert.Equal(t, 60.0, classification.VariancePercent)
}

func TestClassify_OtherMonthsIgnored(t *testing.T) {
	svc, db, node := newTestService(t)
	orgID := node.Generate()
	meter := newMeter(t, db, node, orgID, false)

	// Plenty of history, but only one sample shares the calendar month.
	addReading(t, db, node, meter, 100, nil, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC))
	for month := time.June; month <= time.December; month++ {
		addReading(t, db, node, meter, 100, nil, time.Date(2024, month, 15, 0, 0, 0, 0, time.UTC))
	}

	classification, err := svc.Classify(context.Background(), meter, 100, marchStart)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInsufficientData, classification.Status)
}
