package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HanshengGUO/backtester-v2/internal/marketdata"
)

type binanceEnvelope struct {
	Stream string            `json:"stream"`
	Data   binanceBookTicker `json:"data"`
}

type binanceBookTicker struct {
	Symbol  string `json:"s"`
	BidPx   string `json:"b"`
	BidQty  string `json:"B"`
	AskPx   string `json:"a"`
	AskQty  string `json:"A"`
	EventTs int64  `json:"E"`
}

func (f *Feed) runBinance(ctx context.Context, out chan<- Event) error {
	symbols := f.snapshotSymbols()
	if len(symbols) == 0 {
		return fmt.Errorf("binance feed requires at least one symbol")
	}

	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@bookTicker"
	}

	url := fmt.Sprintf("%s/stream?streams=%s", f.wsURL, strings.Join(streams, "/"))
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeBinanceStream(ctx, url, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Msg("binance feed disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *Feed) consumeBinanceStream(ctx context.Context, url string, out chan<- Event) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.log.Info().Str("provider", ProviderBinance).Strs("symbols", f.snapshotSymbols()).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env binanceEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			f.log.Warn().Err(err).Msg("failed to decode binance message")
			continue
		}

		tick, ok := f.bookTickerToTick(env.Data)
		if !ok {
			continue
		}
		ev := Event{Symbol: strings.ToUpper(env.Data.Symbol), Tick: tick}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Feed) bookTickerToTick(bt binanceBookTicker) (marketdata.Tick, bool) {
	bidPx, err := strconv.ParseFloat(bt.BidPx, 64)
	if err != nil {
		f.log.Warn().Err(err).Msg("invalid bid price from binance")
		return marketdata.Tick{}, false
	}
	bidQty, err := strconv.ParseFloat(bt.BidQty, 64)
	if err != nil {
		f.log.Warn().Err(err).Msg("invalid bid quantity from binance")
		return marketdata.Tick{}, false
	}
	askPx, err := strconv.ParseFloat(bt.AskPx, 64)
	if err != nil {
		f.log.Warn().Err(err).Msg("invalid ask price from binance")
		return marketdata.Tick{}, false
	}
	askQty, err := strconv.ParseFloat(bt.AskQty, 64)
	if err != nil {
		f.log.Warn().Err(err).Msg("invalid ask quantity from binance")
		return marketdata.Tick{}, false
	}

	ts := float64(bt.EventTs) / 1000
	if bt.EventTs == 0 {
		ts = float64(time.Now().UnixMilli()) / 1000
	}
	return marketdata.Tick{
		Ts:   ts,
		Kind: marketdata.KindFast,
		Bids: []marketdata.Level{{Price: bidPx, Size: bidQty}},
		Asks: []marketdata.Level{{Price: askPx, Size: askQty}},
	}, true
}
