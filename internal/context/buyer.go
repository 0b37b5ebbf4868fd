package context

// BuyerContext identifies who is checking out. The source of these values
// (session, auth token) is the caller's concern; the workflow only ever
// reads them. Timezone metadata travels with order creation and follow-up
// booking so the server can localize session times.
type BuyerContext struct {
	BuyerID          string
	Email            string
	Timezone         string // IANA name, e.g. "Europe/Amsterdam"
	UTCOffsetMinutes int
}
