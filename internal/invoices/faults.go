package invoices

import (
	"fmt"
	"strings"
)

// FaultInjector decides whether an upload attempt should fail on purpose.
// It is consulted before any remote write.
type FaultInjector interface {
	ShouldFail(inv Invoice) error
}

// NoFaults never injects failures.
type NoFaults struct{}

// ShouldFail implements FaultInjector.
func (NoFaults) ShouldFail(Invoice) error { return nil }

// Default markers used to route invoices to the dead-letter queue in test environments.
const (
	DefaultInvoiceMarker  = "test-dlq-"
	DefaultCustomerMarker = "error-dlq"
)

// MarkerFaults fails uploads for invoices whose id or customer carries a reserved prefix.
type MarkerFaults struct {
	InvoicePrefix  string
	CustomerPrefix string
}

// NewMarkerFaults returns a MarkerFaults using the default markers.
func NewMarkerFaults() MarkerFaults {
	return MarkerFaults{InvoicePrefix: DefaultInvoiceMarker, CustomerPrefix: DefaultCustomerMarker}
}

// ShouldFail implements FaultInjector.
func (m MarkerFaults) ShouldFail(inv Invoice) error {
	if m.InvoicePrefix != "" && strings.HasPrefix(inv.ID, m.InvoicePrefix) {
		return fmt.Errorf("%w: invoice %s matches marker %q", ErrSimulatedFailure, inv.ID, m.InvoicePrefix)
	}
	if m.CustomerPrefix != "" && strings.HasPrefix(inv.CustomerID, m.CustomerPrefix) {
		return fmt.Errorf("%w: customer %s matches marker %q", ErrSimulatedFailure, inv.CustomerID, m.CustomerPrefix)
	}
	return nil
}

// FaultFunc adapts a function to FaultInjector.
type FaultFunc func(inv Invoice) error

// ShouldFail implements FaultInjector.
func (f FaultFunc) ShouldFail(inv Invoice) error { return f(inv) }
