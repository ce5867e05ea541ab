// Package bill builds, submits, and reviews the work bill attached to an
// in-progress service request. The mechanic drafts and creates it; the
// owner reviews and confirms it, which unlocks completion.
package bill

import (
	"context"
	"errors"
	"fmt"
	"math"

	"roadassist/internal/apiclient"
	"roadassist/internal/model"
)

var (
	ErrEmpty        = errors.New("bill: no items or services")
	ErrBadItem      = errors.New("bill: item needs a name, a positive quantity, and a non-negative price")
	ErrBadService   = errors.New("bill: service needs a name and a non-negative price")
	ErrNotConfirmed = errors.New("bill: not confirmed")
)

// Draft is a bill under construction on the mechanic side.
type Draft struct {
	RequestID string
	Items     []model.BillItem
	Services  []model.BillService
}

func NewDraft(requestID string) *Draft {
	return &Draft{RequestID: requestID}
}

func (d *Draft) AddItem(name string, quantity int, price float64) *Draft {
	d.Items = append(d.Items, model.BillItem{Name: name, Quantity: quantity, Price: price})
	return d
}

func (d *Draft) AddService(name string, price float64) *Draft {
	d.Services = append(d.Services, model.BillService{Name: name, Price: price})
	return d
}

// ItemsTotal is the parts subtotal: quantity times unit price per line.
func (d *Draft) ItemsTotal() float64 {
	var t float64
	for _, it := range d.Items {
		t += float64(it.Quantity) * it.Price
	}
	return round2(t)
}

func (d *Draft) ServicesTotal() float64 {
	var t float64
	for _, s := range d.Services {
		t += s.Price
	}
	return round2(t)
}

func (d *Draft) GrandTotal() float64 {
	return round2(d.ItemsTotal() + d.ServicesTotal())
}

// Validate rejects drafts the backend would bounce anyway, before any
// network round trip.
func (d *Draft) Validate() error {
	if len(d.Items) == 0 && len(d.Services) == 0 {
		return ErrEmpty
	}
	for _, it := range d.Items {
		if it.Name == "" || it.Quantity <= 0 || it.Price < 0 {
			return fmt.Errorf("%w: %q", ErrBadItem, it.Name)
		}
	}
	for _, s := range d.Services {
		if s.Name == "" || s.Price < 0 {
			return fmt.Errorf("%w: %q", ErrBadService, s.Name)
		}
	}
	return nil
}

// Submit validates and creates the bill. The status poll picks up the
// CREATED transition; nothing else changes client-side.
func (d *Draft) Submit(ctx context.Context, api *apiclient.Client) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return api.CreateBill(ctx, d.RequestID, d.Items, d.Services)
}

// Review fetches the bill for the owner's confirmation screen.
func Review(ctx context.Context, api *apiclient.Client, requestID string) (model.Bill, error) {
	b, err := api.GetBill(ctx, requestID)
	if err != nil {
		return model.Bill{}, err
	}
	// Backends that omit the totals get them recomputed locally so the
	// confirmation screen never shows a zero grand total.
	if b.GrandTotal == 0 {
		d := Draft{Items: b.Items, Services: b.Services}
		b.ItemsTotal = d.ItemsTotal()
		b.ServicesTotal = d.ServicesTotal()
		b.GrandTotal = d.GrandTotal()
	}
	return b, nil
}

// Confirm marks the bill accepted by the owner, which enables the
// mechanic's completion action on the next poll.
func Confirm(ctx context.Context, api *apiclient.Client, requestID string) error {
	return api.ConfirmBill(ctx, requestID)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
