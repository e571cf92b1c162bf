package marketdata

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"signal_monitor/internal/models"
	"signal_monitor/internal/modules/config"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// RestClient — батч-снапшот последних цен. Используется только пока
// живой стрим лежит или протух.
type RestClient struct {
	cfg  *config.Config
	http *http.Client
}

func NewRestClient(cfg *config.Config) *RestClient {
	return &RestClient{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// FetchPrices тянет цены по всем символам одним запросом:
// GET /api/v3/ticker/price?symbols=["BTCUSDT","ETHUSDT"].
func (r *RestClient) FetchPrices(ctx context.Context, symbols []string) ([]models.Tick, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	encoded, err := sonic.Marshal(symbols)
	if err != nil {
		return nil, errors.Wrap(err, "encode symbols")
	}

	reqURL := strings.TrimSuffix(r.cfg.RestBaseURL, "/") +
		"/api/v3/ticker/price?symbols=" + url.QueryEscape(string(encoded))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build snapshot request")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch price snapshot")
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(rb))
	}

	var prices []tickerPrice
	if err := sonic.Unmarshal(rb, &prices); err != nil {
		return nil, errors.Wrap(err, "decode price snapshot")
	}

	ticks := make([]models.Tick, 0, len(prices))
	for _, p := range prices {
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil || price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
			continue
		}
		ticks = append(ticks, models.Tick{
			Symbol: models.NormalizeSymbol(p.Symbol),
			Price:  price,
		})
	}
	return ticks, nil
}
