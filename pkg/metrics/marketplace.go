package metrics

import "github.com/prometheus/client_golang/prometheus"

// Reservation outcomes recorded by the deal allocator.
const (
	ReservationReserved     = "reserved"
	ReservationUnavailable  = "unavailable"
	ReservationInsufficient = "insufficient"
	ReservationNotFound     = "not_found"
)

// Claim outcomes recorded by the delivery service.
const (
	ClaimClaimed        = "claimed"
	ClaimRetried        = "retried"
	ClaimAlreadyClaimed = "already_claimed"
	ClaimNotClaimable   = "not_claimable"
)

// MarketplaceMetrics counts contended operations: deal reservations, escrow moves and claims.
// A nil *MarketplaceMetrics is valid and records nothing.
type MarketplaceMetrics struct {
	reservations *prometheus.CounterVec
	escrow       *prometheus.CounterVec
	claims       *prometheus.CounterVec
	published    *prometheus.CounterVec
}

func NewMarketplaceMetrics(reg prometheus.Registerer) *MarketplaceMetrics {
	if reg == nil {
		return &MarketplaceMetrics{}
	}
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deal_reservations_total",
		Help:      "Flash deal reservation attempts by outcome.",
	}, []string{"result"})
	escrow := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escrow_transitions_total",
		Help:      "Applied escrow transitions by target state and trigger.",
	}, []string{"state", "trigger"})
	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_claims_total",
		Help:      "Delivery claim attempts by outcome.",
	}, []string{"result"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_publish_total",
		Help:      "Outbox relay publish attempts by topic and outcome.",
	}, []string{"topic", "result"})
	reg.MustRegister(reservations, escrow, claims, published)
	return &MarketplaceMetrics{
		reservations: reservations,
		escrow:       escrow,
		claims:       claims,
		published:    published,
	}
}

func (m *MarketplaceMetrics) ObserveReservation(result string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *MarketplaceMetrics) ObserveEscrowTransition(state, trigger string) {
	if m == nil || m.escrow == nil {
		return
	}
	m.escrow.WithLabelValues(normalizeLabel(state), normalizeLabel(trigger)).Inc()
}

func (m *MarketplaceMetrics) ObserveClaim(result string) {
	if m == nil || m.claims == nil {
		return
	}
	m.claims.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *MarketplaceMetrics) ObservePublish(topic, result string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(topic), normalizeLabel(result)).Inc()
}
