package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterStructValidation(classificationStructValidation, Classification{})
	return v
}

// classificationStructValidation rejects a NEW_ORDER that carries no items
func classificationStructValidation(sl validatorv10.StructLevel) {
	c := sl.Current().Interface().(Classification)
	if c.Intent == IntentNewOrder && len(c.Items) == 0 {
		sl.ReportError(c.Items, "items", "Items", "new_order_items", "")
	}
}

// Parse converts raw model output into a Classification. Shapes that can be
// sanitized are defaulted; anything else returns ErrClassification.
func Parse(content string, loc *time.Location) (*Classification, error) {
	if loc == nil {
		loc = time.UTC
	}

	cleaned := stripCodeFence(content)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty response", ErrClassification)
	}
	if len(cleaned) > maxContentLengthBytes {
		return nil, fmt.Errorf("%w: response too large", ErrClassification)
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrClassification, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: response is not an object", ErrClassification)
	}

	c := &Classification{
		Intent:     parseIntent(raw["intent"]),
		Confidence: parseConfidence(raw["confidence"]),
	}

	switch c.Intent {
	case IntentNewOrder:
		items, err := parseItems(raw["items"])
		if err != nil {
			return nil, err
		}
		c.Items = items
		c.DueDate = parseDueDate(raw["due_date"], loc)
	case IntentConfirm, IntentCancel:
		c.OrderID = parseOrderID(raw["order_id"])
	}

	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	return c, nil
}

func stripCodeFence(content string) string {
	s := strings.TrimSpace(content)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func parseIntent(v interface{}) Intent {
	s, ok := v.(string)
	if !ok {
		return IntentUnknown
	}
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)

	switch Intent(normalized) {
	case IntentNewOrder, IntentConfirm, IntentCancel, IntentListOrders:
		return Intent(normalized)
	}
	return IntentUnknown
}

func parseItems(v interface{}) ([]Item, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: items is not a list", ErrClassification)
	}

	items := make([]Item, 0, len(list))
	for _, entry := range list {
		switch e := entry.(type) {
		case string:
			desc := truncate(strings.TrimSpace(e), maxDescriptionLength)
			if desc == "" {
				continue
			}
			items = append(items, Item{
				Description: desc,
				Quantity:    DefaultQuantity,
				Price:       0,
				ClientName:  BareItemClientName,
			})
		case map[string]interface{}:
			items = append(items, parseItem(e))
		}
	}
	return items, nil
}

func parseItem(m map[string]interface{}) Item {
	item := Item{
		Description: DefaultItemName,
		Quantity:    DefaultQuantity,
		ClientName:  DefaultClientName,
	}

	if s, ok := m["description"].(string); ok && strings.TrimSpace(s) != "" {
		item.Description = truncate(strings.TrimSpace(s), maxDescriptionLength)
	}
	if n, ok := integer(m["quantity"]); ok && n >= 1 && n <= math.MaxInt32 {
		item.Quantity = int(n)
	}
	// "200k" and other non-integer prices become 0
	if n, ok := integer(m["price"]); ok && n >= 0 {
		item.Price = n
	}
	if s, ok := m["client_name"].(string); ok && strings.TrimSpace(s) != "" {
		item.ClientName = truncate(strings.TrimSpace(s), maxClientNameLength)
	}
	return item
}

// integer accepts JSON numbers with no fractional part
func integer(v interface{}) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64/2 {
		return 0, false
	}
	return int64(f), true
}

func parseOrderID(v interface{}) *int64 {
	var id int64
	switch x := v.(type) {
	case json.Number:
		n, ok := integer(x)
		if !ok {
			return nil
		}
		id = n
	case string:
		n, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(x), "#"), 10, 64)
		if err != nil {
			return nil
		}
		id = n
	default:
		return nil
	}
	if id < 1 {
		return nil
	}
	return &id
}

func parseDueDate(v interface{}, loc *time.Location) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)

	for _, layout := range []string{dueDateLayout, dueDateMinuteLayout} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.In(loc)
		return &t
	}
	if t, err := time.ParseInLocation(dueDateDayOnlyLayout, s, loc); err == nil {
		t = t.Add(defaultDueDateHour * time.Hour)
		return &t
	}
	return nil
}

func parseConfidence(v interface{}) float64 {
	n, ok := v.(json.Number)
	if !ok {
		return DefaultConfidence
	}
	f, err := n.Float64()
	if err != nil || f < 0 || f > 1 || math.IsNaN(f) {
		return DefaultConfidence
	}
	return f
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
