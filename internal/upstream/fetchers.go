package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/nordflow/ingest/internal/errs"
)

// Raw upstream JSON shapes. Only the fields the normalizers consume are
// declared; everything else in the payloads is ignored on unmarshal.

type TradesResponse struct {
	Contracts []TradeContract `json:"contracts"`
}

type TradeContract struct {
	ContractID    string       `json:"contractId"`
	ContractName  string       `json:"contractName"`
	DeliveryStart string       `json:"deliveryStart"`
	DeliveryEnd   string       `json:"deliveryEnd"`
	Trades        []TradeEntry `json:"trades"`
}

type TradeEntry struct {
	TradeID        string     `json:"tradeId"`
	TradeTime      string     `json:"tradeTime"`
	TradeUpdatedAt string     `json:"tradeUpdatedAt"`
	TradeState     string     `json:"tradeState"`
	RevisionNumber int64      `json:"revisionNumber"`
	Price          float64    `json:"price"`
	Volume         float64    `json:"volume"`
	TradePhase     string     `json:"tradePhase"`
	CrossPx        bool       `json:"crossPx"`
	Legs           []TradeLeg `json:"legs"`
}

type TradeLeg struct {
	DeliveryArea     string `json:"deliveryArea"`
	ReferenceOrderID string `json:"referenceOrderId"`
	TradeSide        string `json:"tradeSide"`
}

type RevisionsResponse struct {
	Contracts []RevisionContract `json:"contracts"`
}

type RevisionContract struct {
	ContractID    string          `json:"contractId"`
	ContractName  string          `json:"contractName"`
	DeliveryStart string          `json:"deliveryStart"`
	DeliveryEnd   string          `json:"deliveryEnd"`
	Orders        []RevisionOrder `json:"orders"`
}

type RevisionOrder struct {
	OrderID     string          `json:"orderId"`
	Side        string          `json:"side"`
	CreatedTime string          `json:"createdTime"`
	Revisions   []OrderRevision `json:"revisions"`
}

type OrderRevision struct {
	RevisionNumber int64   `json:"revisionNumber"`
	Action         string  `json:"action"`
	Price          float64 `json:"price"`
	Volume         float64 `json:"volume"`
	UpdatedTime    string  `json:"updatedTime"`
	PriorityTime   string  `json:"priorityTime"`
}

type ContractsResponse struct {
	DeliveryArea    string         `json:"deliveryArea"`
	DeliveryDateUtc string         `json:"deliveryDateUtc"`
	Contracts       []ContractInfo `json:"contracts"`
}

type ContractInfo struct {
	ContractID        string `json:"contractId"`
	ContractName      string `json:"contractName"`
	DeliveryStart     string `json:"deliveryStart"`
	DeliveryEnd       string `json:"deliveryEnd"`
	ContractOpenTime  string `json:"contractOpenTime"`
	ContractCloseTime string `json:"contractCloseTime"`
	IsLocalContract   bool   `json:"isLocalContract"`
}

type OrderBookResponse struct {
	ContractID   string         `json:"contractId"`
	DeliveryArea string         `json:"deliveryArea"`
	UpdatedAt    string         `json:"updatedAt"`
	Revisions    []BookRevision `json:"revisions"`
}

type BookRevision struct {
	Revision   int64       `json:"revision"`
	IsSnapshot bool        `json:"isSnapshot"`
	BuyOrders  []BookOrder `json:"buyOrders"`
	SellOrders []BookOrder `json:"sellOrders"`
}

type BookOrder struct {
	OrderID      string  `json:"orderId"`
	Price        float64 `json:"price"`
	Volume       float64 `json:"volume"`
	UpdatedTime  string  `json:"updatedTime"`
	PriorityTime string  `json:"priorityTime"`
	Deleted      bool    `json:"deleted"`
}

// TradesByDeliveryStart fetches completed trades for an area whose
// delivery_start falls in [from, to).
func (c *Client) TradesByDeliveryStart(ctx context.Context, area string, from, to time.Time) (*TradesResponse, error) {
	params := url.Values{}
	params.Set("deliveryStartFrom", formatTime(from))
	params.Set("deliveryStartTo", formatTime(to))
	params.Set("areas", area)

	body, err := c.doRequest(ctx, "/api/v2/Intraday/Trades/ByDeliveryStart", params)
	if err != nil {
		return nil, err
	}
	var out TradesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &errs.ParseError{Context: "trades response", Excerpt: excerpt(body), Err: err}
	}
	return &out, nil
}

// ContractsByArea fetches the contract list for one delivery area and date.
func (c *Client) ContractsByArea(ctx context.Context, area string, date time.Time) (*ContractsResponse, error) {
	params := url.Values{}
	params.Set("area", area)
	params.Set("deliveryDateUtc", formatDate(date))

	body, err := c.doRequest(ctx, "/api/v2/Intraday/OrderBook/ContractsIds/ByArea", params)
	if err != nil {
		return nil, err
	}
	var out ContractsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &errs.ParseError{Context: "contracts response", Excerpt: excerpt(body), Err: err}
	}
	out.DeliveryArea = area
	return &out, nil
}

// OrderBookByContractID fetches the full historical revisions payload for
// one contract on one delivery date. Payloads can run large for liquid
// contracts; callers should treat one call as one unit of archival work.
func (c *Client) OrderBookByContractID(ctx context.Context, area, contractID string, date time.Time) (*OrderBookResponse, error) {
	params := url.Values{}
	params.Set("area", area)
	params.Set("contractId", contractID)
	params.Set("deliveryDateUtc", formatDate(date))

	body, err := c.doRequest(ctx, "/api/v2/Intraday/OrderBook/ByContractId", params)
	if err != nil {
		return nil, err
	}
	var out OrderBookResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &errs.ParseError{Context: "order book response", Excerpt: excerpt(body), Err: err}
	}
	return &out, nil
}

// RevisionSlice is one yielded element of the OrderRevisionsByUpdatedTime
// generator: either a parsed payload, or a per-slice error that does not
// terminate the sequence.
type RevisionSlice struct {
	From, To time.Time
	Payload  *RevisionsResponse
	Err      error
}

// OrderRevisionsByUpdatedTime slices [from, to) into <=4h pieces (the
// upstream's hard cap on this endpoint) and returns a channel yielding one
// RevisionSlice per piece, in order. The channel is closed once every
// slice has been produced. Restartable: each call starts a fresh slicing
// pass over [from, to). A per-slice failure is yielded as an errored
// RevisionSlice and the generator advances to the next slice rather than
// aborting.
func (c *Client) OrderRevisionsByUpdatedTime(ctx context.Context, area string, from, to time.Time, chunk time.Duration) <-chan RevisionSlice {
	out := make(chan RevisionSlice)
	if chunk <= 0 || chunk > 4*time.Hour {
		chunk = 4 * time.Hour
	}

	go func() {
		defer close(out)
		cur := from
		for cur.Before(to) {
			end := cur.Add(chunk)
			if end.After(to) {
				end = to
			}

			slice := RevisionSlice{From: cur, To: end}

			params := url.Values{}
			params.Set("area", area)
			params.Set("updatedTimeFrom", formatTime(cur))
			params.Set("updatedTimeTo", formatTime(end))

			body, err := c.doRequest(ctx, "/api/v2/Intraday/OrderRevisions/ByUpdatedTime", params)
			if err != nil {
				slice.Err = fmt.Errorf("slice [%s,%s): %w", formatTime(cur), formatTime(end), err)
			} else {
				var payload RevisionsResponse
				if err := json.Unmarshal(body, &payload); err != nil {
					slice.Err = &errs.ParseError{Context: "revisions response", Excerpt: excerpt(body), Err: err}
				} else {
					slice.Payload = &payload
				}
			}

			select {
			case out <- slice:
			case <-ctx.Done():
				return
			}

			cur = end
		}
	}()

	return out
}
