// Package source reads the operational CSV extracts (customers, sellers,
// products, orders, order items, reviews) into the in-memory shapes the
// loaders consume. Header order in the files does not matter; columns
// are resolved by name.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mart/internal/mart"
)

// timestampLayouts are the source formats seen in the extracts, tried in
// order.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

// rowErr lets callers observe per-line parse failures without stopping
// the stream. A nil handler drops them silently.
type rowErr func(line int, err error)

// reader walks one CSV stream with named column access.
type reader struct {
	cr    *csv.Reader
	cols  map[string]int
	line  int
	onErr rowErr
}

func newReader(r io.Reader, onErr rowErr) (*reader, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	rd := &reader{cr: cr, onErr: onErr}

	hdr, err := cr.Read()
	rd.line++
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	rd.cols = make(map[string]int, len(hdr))
	for i, h := range hdr {
		rd.cols[strings.TrimSpace(strings.ToLower(h))] = i
	}
	return rd, nil
}

// next returns the following record, or nil at EOF. Malformed records go
// to onErr and are skipped.
func (r *reader) next() ([]string, error) {
	for {
		rec, err := r.cr.Read()
		r.line++
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			if r.onErr != nil {
				r.onErr(r.line, err)
				continue
			}
			return nil, err
		}
		return rec, nil
	}
}

func (r *reader) field(rec []string, name string) string {
	ix, ok := r.cols[name]
	if !ok || ix >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[ix])
}

func (r *reader) floatField(rec []string, name string) float64 {
	s := r.field(rec, name)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if r.onErr != nil {
			r.onErr(r.line, fmt.Errorf("column %s: %w", name, err))
		}
		return 0
	}
	return v
}

func (r *reader) timeField(rec []string, name string) *time.Time {
	s := r.field(rec, name)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	if r.onErr != nil {
		r.onErr(r.line, fmt.Errorf("column %s: unparseable timestamp %q", name, s))
	}
	return nil
}

// ReadCustomers parses the customer extract.
func ReadCustomers(src io.Reader, onErr rowErr) ([]mart.CustomerSnapshot, error) {
	r, err := newReader(src, onErr)
	if err != nil {
		return nil, err
	}

	var out []mart.CustomerSnapshot
	for {
		rec, err := r.next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return out, nil
		}
		out = append(out, mart.CustomerSnapshot{
			CustomerID:    r.field(rec, "customer_id"),
			City:          r.field(rec, "customer_city"),
			State:         r.field(rec, "customer_state"),
			ZipCodePrefix: r.field(rec, "customer_zip_code_prefix"),
		})
	}
}

// ReadSellers parses the seller extract.
func ReadSellers(src io.Reader, onErr rowErr) ([]mart.SellerSnapshot, error) {
	r, err := newReader(src, onErr)
	if err != nil {
		return nil, err
	}

	var out []mart.SellerSnapshot
	for {
		rec, err := r.next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return out, nil
		}
		out = append(out, mart.SellerSnapshot{
			SellerID:      r.field(rec, "seller_id"),
			City:          r.field(rec, "seller_city"),
			State:         r.field(rec, "seller_state"),
			ZipCodePrefix: r.field(rec, "seller_zip_code_prefix"),
		})
	}
}

// ReadCategoryTranslations parses the category translation extract into
// a native-name to English-name map.
func ReadCategoryTranslations(src io.Reader, onErr rowErr) (map[string]string, error) {
	r, err := newReader(src, onErr)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string)
	for {
		rec, err := r.next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return out, nil
		}
		name := r.field(rec, "product_category_name")
		if name == "" {
			continue
		}
		out[name] = r.field(rec, "product_category_name_english")
	}
}

// ReadProducts parses the product extract. translations maps native
// category names to English ones; pass nil when no translation file is
// available, the English attribute then stays empty.
func ReadProducts(src io.Reader, translations map[string]string, onErr rowErr) ([]mart.ProductSnapshot, error) {
	r, err := newReader(src, onErr)
	if err != nil {
		return nil, err
	}

	var out []mart.ProductSnapshot
	for {
		rec, err := r.next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return out, nil
		}
		name := r.field(rec, "product_category_name")
		out = append(out, mart.ProductSnapshot{
			ProductID:       r.field(rec, "product_id"),
			CategoryName:    name,
			CategoryEnglish: translations[name],
			WeightG:         r.floatField(rec, "product_weight_g"),
			LengthCM:        r.floatField(rec, "product_length_cm"),
			HeightCM:        r.floatField(rec, "product_height_cm"),
			WidthCM:         r.floatField(rec, "product_width_cm"),
		})
	}
}

// ReadOrderLines merges the orders, order items and reviews extracts
// into order line events.
//
// Edge cases:
//   - Items whose order is missing from the orders extract are reported
//     through onErr and skipped; an event without a purchase timestamp
//     cannot be resolved point-in-time.
//   - Orders with several reviews keep the latest score per order, the
//     extracts occasionally carry resubmissions.
func ReadOrderLines(ordersSrc, itemsSrc, reviewsSrc io.Reader, onErr rowErr) ([]mart.OrderLineEvent, error) {
	orders, err := readOrders(ordersSrc, onErr)
	if err != nil {
		return nil, err
	}

	reviews := map[string]int{}
	if reviewsSrc != nil {
		reviews, err = readReviews(reviewsSrc, onErr)
		if err != nil {
			return nil, err
		}
	}

	r, err := newReader(itemsSrc, onErr)
	if err != nil {
		return nil, err
	}

	var out []mart.OrderLineEvent
	for {
		rec, err := r.next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return out, nil
		}

		orderID := r.field(rec, "order_id")
		hdr, ok := orders[orderID]
		if !ok {
			if onErr != nil {
				onErr(r.line, fmt.Errorf("order %s: item without order header", orderID))
			}
			continue
		}

		itemID, err := strconv.Atoi(r.field(rec, "order_item_id"))
		if err != nil {
			if onErr != nil {
				onErr(r.line, fmt.Errorf("order %s: order_item_id: %w", orderID, err))
			}
			continue
		}

		price, err := parseMoney(r.field(rec, "price"))
		if err != nil {
			if onErr != nil {
				onErr(r.line, fmt.Errorf("order %s: price: %w", orderID, err))
			}
			continue
		}
		freight, err := parseMoney(r.field(rec, "freight_value"))
		if err != nil {
			if onErr != nil {
				onErr(r.line, fmt.Errorf("order %s: freight_value: %w", orderID, err))
			}
			continue
		}

		ev := mart.OrderLineEvent{
			OrderID:     orderID,
			OrderItemID: itemID,

			CustomerID: hdr.customerID,
			SellerID:   r.field(rec, "seller_id"),
			ProductID:  r.field(rec, "product_id"),

			PurchasedAt:         hdr.purchasedAt,
			DeliveredAt:         hdr.deliveredAt,
			EstimatedDeliveryAt: hdr.estimatedAt,

			Price:        price,
			FreightValue: freight,
		}
		if score, ok := reviews[orderID]; ok {
			ev.ReviewScore = &score
		}
		out = append(out, ev)
	}
}

func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

type orderHeader struct {
	customerID  string
	purchasedAt time.Time
	deliveredAt *time.Time
	estimatedAt *time.Time
}

func readOrders(src io.Reader, onErr rowErr) (map[string]orderHeader, error) {
	r, err := newReader(src, onErr)
	if err != nil {
		return nil, err
	}

	out := make(map[string]orderHeader)
	for {
		rec, err := r.next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return out, nil
		}

		orderID := r.field(rec, "order_id")
		purchased := r.timeField(rec, "order_purchase_timestamp")
		if orderID == "" || purchased == nil {
			if onErr != nil {
				onErr(r.line, fmt.Errorf("order %q: missing id or purchase timestamp", orderID))
			}
			continue
		}
		out[orderID] = orderHeader{
			customerID:  r.field(rec, "customer_id"),
			purchasedAt: *purchased,
			deliveredAt: r.timeField(rec, "order_delivered_customer_date"),
			estimatedAt: r.timeField(rec, "order_estimated_delivery_date"),
		}
	}
}

type reviewEntry struct {
	score int
	at    time.Time
}

// readReviews keeps one score per order: the review with the latest
// creation timestamp wins. Rows without a parseable timestamp fall back
// to file order among themselves.
func readReviews(src io.Reader, onErr rowErr) (map[string]int, error) {
	r, err := newReader(src, onErr)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]reviewEntry)
	for {
		rec, err := r.next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			out := make(map[string]int, len(latest))
			for orderID, e := range latest {
				out[orderID] = e.score
			}
			return out, nil
		}
		orderID := r.field(rec, "order_id")
		score, err := strconv.Atoi(r.field(rec, "review_score"))
		if err != nil || orderID == "" {
			continue
		}

		var at time.Time
		if t := r.timeField(rec, "review_creation_date"); t != nil {
			at = *t
		}
		if cur, ok := latest[orderID]; ok && at.Before(cur.at) {
			continue
		}
		latest[orderID] = reviewEntry{score: score, at: at}
	}
}
