package handler

import (
	"bytes"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

const maxBodyBytes = 64 << 10

type decoder interface {
	decode(d *jx.Decoder) error
}

// decodeBody decodes a JSON object body into v. An empty body leaves v
// untouched and unknown fields are ignored.
func decodeBody(r *http.Request, v decoder) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(data) > maxBodyBytes {
		return errors.New("body too large")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.decode(jx.DecodeBytes(data)); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

func optStr(d *jx.Decoder) (*string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type createDraftRequest struct {
	Category   string
	CustomerID *string
	Note       string
}

func (req *createDraftRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "category":
			req.Category, err = d.Str()
		case "customer_id":
			req.CustomerID, err = optStr(d)
		case "note":
			req.Note, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

type setLineRequest struct {
	Quantity int
}

func (req *setLineRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		var err error
		req.Quantity, err = d.Int()
		return err
	})
}

type applyDiscountRequest struct {
	Code string
}

func (req *applyDiscountRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		var err error
		req.Code, err = d.Str()
		return err
	})
}

type redeemRequest struct {
	CustomerID string
	Points     int64
}

func (req *redeemRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customer_id":
			req.CustomerID, err = d.Str()
		case "points":
			req.Points, err = d.Int64()
		default:
			err = d.Skip()
		}
		return err
	})
}

type noteRequest struct {
	Note string
}

func (req *noteRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if key != "note" {
			return d.Skip()
		}
		var err error
		req.Note, err = d.Str()
		return err
	})
}
