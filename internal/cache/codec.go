package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/guregu/null/v6"
	"github.com/tidwall/gjson"

	"PortfolioFeed/internal/model"
)

var errBadBlob = errors.New("malformed financials blob")

// encodeFinancials writes period values as a JSON object whose key order is
// the slice order, most recent period first.
func encodeFinancials(vals model.PeriodValues) (null.String, error) {
	if len(vals) == 0 {
		return null.String{}, nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, pv := range vals {
		if math.IsNaN(pv.Value) || math.IsInf(pv.Value, 0) {
			return null.String{}, fmt.Errorf("period %s: value %v is not representable", pv.Period, pv.Value)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(pv.Period)
		if err != nil {
			return null.String{}, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(pv.Value, 'f', -1, 64))
	}
	buf.WriteByte('}')
	return null.StringFrom(buf.String()), nil
}

// decodeFinancials parses a blob written by encodeFinancials, keeping key order.
func decodeFinancials(blob null.String) (model.PeriodValues, error) {
	if !blob.Valid || blob.String == "" {
		return nil, nil
	}
	if !gjson.Valid(blob.String) {
		return nil, errBadBlob
	}
	doc := gjson.Parse(blob.String)
	if !doc.IsObject() {
		return nil, errBadBlob
	}

	var out model.PeriodValues
	var err error
	doc.ForEach(func(k, v gjson.Result) bool {
		if v.Type != gjson.Number {
			err = fmt.Errorf("%w: period %s is not numeric", errBadBlob, k.String())
			return false
		}
		out = append(out, model.PeriodValue{Period: k.String(), Value: v.Float()})
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
