package bybit

import (
	"context"
	"fmt"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

type endpoint string

const (
	endpointTickers      endpoint = "market/tickers"
	endpointKline        endpoint = "market/kline"
	endpointInstruments  endpoint = "market/instruments-info"
	endpointPlaceOrder   endpoint = "order/create"
	endpointOpenOrders   endpoint = "order/realtime"
	endpointOrderHistory endpoint = "order/history"
	endpointCancelOrder  endpoint = "order/cancel"
)

type transport interface {
	Do(ctx context.Context, ep endpoint, params map[string]interface{}) (interface{}, error)
}

type apiTransport struct {
	client *bybit_api.Client
}

func (t *apiTransport) Do(ctx context.Context, ep endpoint, params map[string]interface{}) (interface{}, error) {
	svc := t.client.NewUtaBybitServiceWithParams(params)
	switch ep {
	case endpointTickers:
		return svc.GetMarketTickers(ctx)
	case endpointKline:
		return svc.GetMarketKline(ctx)
	case endpointInstruments:
		return svc.GetInstrumentInfo(ctx)
	case endpointPlaceOrder:
		return svc.PlaceOrder(ctx)
	case endpointOpenOrders:
		return svc.GetOpenOrders(ctx)
	case endpointOrderHistory:
		return svc.GetOrderHistory(ctx)
	case endpointCancelOrder:
		return svc.CancelOrder(ctx)
	}
	return nil, fmt.Errorf("unsupported endpoint %s", ep)
}
