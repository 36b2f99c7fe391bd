package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hemalabs/hedgegrid/pkg/types"
)

// GetBalance returns the available margin for the given settlement coin.
func (c *Client) GetBalance(ctx context.Context, coin string) (types.Balance, error) {
	query := url.Values{}
	query.Set("productType", c.productType)

	data, err := c.do(ctx, "GET", "/api/v2/mix/account/accounts", query, nil)
	if err != nil {
		return types.Balance{}, err
	}

	var accounts []struct {
		MarginCoin string `json:"marginCoin"`
		Available  string `json:"available"`
	}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return types.Balance{}, fmt.Errorf("decode accounts: %w", err)
	}

	for _, acct := range accounts {
		if acct.MarginCoin == coin {
			return types.Balance{Coin: coin, Available: parseFloat(acct.Available)}, nil
		}
	}
	return types.Balance{Coin: coin}, nil
}

// GetPositions returns the open positions for symbol. Bitget reports one
// aggregate position per hold side in hedge mode; each side maps to one
// ExchangePosition with a synthetic stable id.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]types.ExchangePosition, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("productType", c.productType)
	query.Set("marginCoin", c.marginCoin)

	data, err := c.do(ctx, "GET", "/api/v2/mix/position/single-position", query, nil)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Symbol       string `json:"symbol"`
		HoldSide     string `json:"holdSide"`
		Total        string `json:"total"`
		OpenPriceAvg string `json:"openPriceAvg"`
		MarkPrice    string `json:"markPrice"`
		UnrealizedPL string `json:"unrealizedPL"`
		Leverage     string `json:"leverage"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]types.ExchangePosition, 0, len(rows))
	for _, row := range rows {
		size := parseFloat(row.Total)
		if size == 0 {
			continue
		}
		side := types.SideBuy
		if row.HoldSide == "short" {
			side = types.SideSell
		}
		lev, _ := strconv.Atoi(row.Leverage)
		positions = append(positions, types.ExchangePosition{
			ID:            symbol + "-" + row.HoldSide,
			Symbol:        row.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    parseFloat(row.OpenPriceAvg),
			MarkPrice:     parseFloat(row.MarkPrice),
			UnrealizedPnL: parseFloat(row.UnrealizedPL),
			Leverage:      lev,
		})
	}
	return positions, nil
}

// SetLeverage configures leverage for both hold sides of symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	for _, holdSide := range []string{"long", "short"} {
		body := map[string]string{
			"symbol":      symbol,
			"productType": c.productType,
			"marginCoin":  c.marginCoin,
			"leverage":    strconv.Itoa(leverage),
			"holdSide":    holdSide,
		}
		if _, err := c.do(ctx, "POST", "/api/v2/mix/account/set-leverage", nil, body); err != nil {
			return err
		}
	}
	return nil
}
