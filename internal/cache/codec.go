package cache

import (
	"encoding/json"
	"fmt"

	"github.com/wonny/marketdata/internal/provider"
)

// payload is the stored form of a series
type payload struct {
	Symbol string           `json:"symbol"`
	Points []provider.Point `json:"points"`
}

func encodeSeries(s *provider.Series) ([]byte, error) {
	data, err := json.Marshal(payload{Symbol: s.Symbol, Points: s.Points})
	if err != nil {
		return nil, fmt.Errorf("failed to encode series: %w", err)
	}
	return data, nil
}

func decodeSeries(key Key, data []byte) (*provider.Series, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode series %s: %w", key, err)
	}
	symbol := p.Symbol
	if symbol == "" {
		symbol = key.Symbol
	}
	return &provider.Series{
		Symbol:      symbol,
		Provider:    key.Provider,
		Granularity: key.Granularity,
		Points:      p.Points,
	}, nil
}
