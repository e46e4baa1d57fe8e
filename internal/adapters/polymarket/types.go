package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/copybot/internal/domain"
)

// DTOs crudos de la Data API y el CLOB. Los numéricos llegan a veces como
// string y a veces como number; json.Number absorbe ambos.

type rawActivity struct {
	TransactionHash string      `json:"transactionHash"`
	Type            string      `json:"type"`
	ConditionID     string      `json:"conditionId"`
	Asset           string      `json:"asset"`
	Outcome         string      `json:"outcome"`
	Title           string      `json:"title"`
	Side            string      `json:"side"`
	Price           json.Number `json:"price"`
	Size            json.Number `json:"size"`
	USDCSize        json.Number `json:"usdcSize"`
	Timestamp       json.Number `json:"timestamp"`
}

type rawPosition struct {
	ConditionID string      `json:"conditionId"`
	Asset       string      `json:"asset"`
	Size        json.Number `json:"size"`
	AvgPrice    json.Number `json:"avgPrice"`
	CurPrice    json.Number `json:"curPrice"`
}

type rawBookLevel struct {
	Price json.Number `json:"price"`
	Size  json.Number `json:"size"`
}

type rawOrderBook struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Bids      []rawBookLevel `json:"bids"`
	Asks      []rawBookLevel `json:"asks"`
	Timestamp json.Number    `json:"timestamp"`
}

type rawOrder struct {
	ID           string      `json:"id"`
	Market       string      `json:"market"`
	AssetID      string      `json:"asset_id"`
	Side         string      `json:"side"`
	Price        json.Number `json:"price"`
	OriginalSize json.Number `json:"original_size"`
	SizeMatched  json.Number `json:"size_matched"`
	Status       string      `json:"status"`
	CreatedAt    json.Number `json:"created_at"`
}

type rawBalance struct {
	Available json.Number `json:"available"`
	Locked    json.Number `json:"locked"`
}

func toFeedActivity(r rawActivity) domain.FeedActivity {
	return domain.FeedActivity{
		TransactionHash: r.TransactionHash,
		Type:            strings.ToUpper(r.Type),
		ConditionID:     r.ConditionID,
		Asset:           r.Asset,
		Outcome:         r.Outcome,
		Title:           r.Title,
		Side:            strings.ToUpper(r.Side),
		Price:           num(r.Price),
		Size:            num(r.Size),
		USDCSize:        num(r.USDCSize),
		Timestamp:       unixTime(r.Timestamp),
	}
}

func toFeedPosition(r rawPosition) domain.FeedPosition {
	return domain.FeedPosition{
		ConditionID: r.ConditionID,
		Asset:       r.Asset,
		Size:        num(r.Size),
		AvgPrice:    num(r.AvgPrice),
		CurPrice:    num(r.CurPrice),
	}
}

func toOrderBook(r rawOrderBook) domain.OrderBook {
	book := domain.OrderBook{
		MarketID:  r.Market,
		OutcomeID: r.AssetID,
		Timestamp: unixTime(r.Timestamp),
	}
	for _, lvl := range r.Bids {
		book.Bids = append(book.Bids, domain.BookLevel{Price: num(lvl.Price), Size: num(lvl.Size)})
	}
	for _, lvl := range r.Asks {
		book.Asks = append(book.Asks, domain.BookLevel{Price: num(lvl.Price), Size: num(lvl.Size)})
	}
	sortBook(&book)
	return book
}

func toOrder(r rawOrder) domain.Order {
	side := domain.SideBuy
	if strings.EqualFold(r.Side, "SELL") {
		side = domain.SideSell
	}
	order := domain.Order{
		ID:        r.ID,
		Venue:     domain.VenuePolymarket,
		MarketID:  r.Market,
		OutcomeID: r.AssetID,
		Side:      side,
		Price:     num(r.Price),
		Size:      num(r.OriginalSize),
		PlacedAt:  unixTime(r.CreatedAt),
	}
	matched := num(r.SizeMatched)
	order.FilledSize = matched
	order.FilledPrice = order.Price

	switch strings.ToUpper(r.Status) {
	case "MATCHED":
		order.Status = domain.OrderStatusFilled
		// El CLOB reporta matched a precio límite; los fills mejores llegan
		// por el user feed.
		if matched == 0 {
			order.FilledSize = order.Size
		}
	case "CANCELED", "CANCELLED":
		order.Status = domain.OrderStatusCancelled
	default:
		if matched > 0 && matched < order.Size {
			order.Status = domain.OrderStatusPartial
		} else {
			order.Status = domain.OrderStatusOpen
		}
	}
	return order
}

// sortBook ordena bids de mayor a menor y asks de menor a mayor precio.
// La API devuelve el libro ordenado pero no lo garantiza en el contrato.
func sortBook(book *domain.OrderBook) {
	for i := 1; i < len(book.Bids); i++ {
		for j := i; j > 0 && book.Bids[j].Price > book.Bids[j-1].Price; j-- {
			book.Bids[j], book.Bids[j-1] = book.Bids[j-1], book.Bids[j]
		}
	}
	for i := 1; i < len(book.Asks); i++ {
		for j := i; j > 0 && book.Asks[j].Price < book.Asks[j-1].Price; j-- {
			book.Asks[j], book.Asks[j-1] = book.Asks[j-1], book.Asks[j]
		}
	}
}

func num(n json.Number) float64 {
	f, _ := n.Float64()
	return f
}

// unixTime acepta epoch en segundos o milisegundos (la Data API mezcla ambos
// según endpoint).
func unixTime(n json.Number) time.Time {
	s := n.String()
	if s == "" {
		return time.Time{}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Algunos endpoints devuelven decimales de segundos.
		if f, ferr := n.Float64(); ferr == nil {
			return time.Unix(int64(f), 0).UTC()
		}
		return time.Time{}
	}
	if v > 1e12 { // milisegundos
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}
