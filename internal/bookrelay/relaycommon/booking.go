package relaycommon

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Passenger is one traveller on a booking.
type Passenger struct {
	Age    int    `json:"age" validate:"min=1,max=125"`
	Name   string `json:"name" validate:"required,max=50"`
	Gender string `json:"gender" validate:"required,oneof=M F T"`
}

// BookingRequest holds the purchase parameters captured when a session begins.
// Field names follow the provider request shape.
type BookingRequest struct {
	Train      string      `json:"train" validate:"required,trainNumber"`
	From       string      `json:"from" validate:"required,stationCode"`
	To         string      `json:"to" validate:"required,stationCode,nefield=From"`
	Class      string      `json:"class" validate:"required,oneof=2A 3A SL CC 2S FC 1A 3E EC EA"`
	Quota      string      `json:"quota" validate:"required,oneof=GN TQ PT LD SS HP DF"`
	Date       string      `json:"date" validate:"required,journeyDate"`
	Mobile     string      `json:"mobile,omitempty" validate:"omitempty,len=10,numeric"`
	Payment    string      `json:"payment,omitempty" validate:"omitempty,max=100"`
	Passengers []Passenger `json:"passengers" validate:"required,min=1,dive"`
}

// Tatkal quotas allow fewer passengers per booking.
var tatkalQuotas = map[string]bool{"TQ": true, "PT": true}

const (
	MaxPassengersTatkal  = 4
	MaxPassengersGeneral = 6
)

// MaxPassengers returns the passenger limit for quota.
func MaxPassengers(quota string) int {
	if tatkalQuotas[quota] {
		return MaxPassengersTatkal
	}
	return MaxPassengersGeneral
}

var upper = cases.Upper(language.Und)

// Normalize trims every field and upper-cases the code fields in place.
func (b *BookingRequest) Normalize() {
	code := func(s string) string { return upper.String(strings.TrimSpace(s)) }
	b.Train = strings.TrimSpace(b.Train)
	b.From = code(b.From)
	b.To = code(b.To)
	b.Class = code(b.Class)
	b.Quota = code(b.Quota)
	b.Date = strings.TrimSpace(b.Date)
	b.Mobile = strings.TrimSpace(b.Mobile)
	b.Payment = strings.TrimSpace(b.Payment)
	for i := range b.Passengers {
		b.Passengers[i].Name = strings.Join(strings.Fields(b.Passengers[i].Name), " ")
		b.Passengers[i].Gender = code(b.Passengers[i].Gender)
	}
}

// ApplyDefaults fills the optional contact fields that were left empty.
func (b *BookingRequest) ApplyDefaults(mobile, payment string) {
	if b.Mobile == "" {
		b.Mobile = mobile
	}
	if b.Payment == "" {
		b.Payment = payment
	}
}

// Clone returns a deep copy so callers never share the passenger slice.
func (b BookingRequest) Clone() BookingRequest {
	c := b
	if b.Passengers != nil {
		c.Passengers = make([]Passenger, len(b.Passengers))
		copy(c.Passengers, b.Passengers)
	}
	return c
}

// Ticket is what the provider returns for a confirmed booking.
type Ticket struct {
	PNR    string `json:"pnr"`
	Status string `json:"status,omitempty"`
	Fare   string `json:"fare,omitempty"`
}

// BookingSummary is the client-facing description of an accepted booking.
// Ticket is nil while a detached worker is still running.
type BookingSummary struct {
	Train      string      `json:"train"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	Class      string      `json:"class"`
	Quota      string      `json:"quota"`
	Date       string      `json:"date"`
	Passengers []Passenger `json:"passengers"`
	Ticket     *Ticket     `json:"ticket,omitempty"`
}

// Summarize builds the summary for req, attaching t when the booking has completed.
func Summarize(req BookingRequest, t *Ticket) BookingSummary {
	c := req.Clone()
	return BookingSummary{
		Train:      c.Train,
		From:       c.From,
		To:         c.To,
		Class:      c.Class,
		Quota:      c.Quota,
		Date:       c.Date,
		Passengers: c.Passengers,
		Ticket:     t,
	}
}
