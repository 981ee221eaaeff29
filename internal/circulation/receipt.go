// internal/circulation/receipt.go
package circulation

import (
	"fmt"
	"strings"
	"time"
)

// Receipt messages surfaced to the caller.
const (
	MsgRentalIssued        = "Rental successfully issued"
	MsgHoldPlaced          = "Reservation successfully placed"
	MsgNoCopiesAvailable   = "No copies available"
	MsgParticipantNotFound = "Participant not found"
	MsgItemNotFound        = "Book not found"
)

// FormatReceipt renders the human-readable outcome summary handed back
// with every completed or rejected request. Pure and deterministic given
// its inputs.
func FormatReceipt(kind Kind, member, book string, success bool, message string, at time.Time) string {
	header := "RENTAL RECEIPT"
	if kind == KindHold {
		header = "RESERVATION RECEIPT"
	}

	status := "Success"
	if !success {
		status = "Declined"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "==== %s ====\n", header)
	fmt.Fprintf(&b, "Time: %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(&b, "Member: %s\n", member)
	fmt.Fprintf(&b, "Book: %s\n", book)
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Message: %s\n", message)
	b.WriteString("================\n")
	return b.String()
}
