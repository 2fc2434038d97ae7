package call

import "github.com/zentrylabs/zentry/internal/endpoint"

// HandleEvent feeds a detector event directly into the turn state machine,
// letting tests exercise event orderings the detector cannot emit on demand.
func (c *Controller) HandleEvent(ev endpoint.Event) { c.handleEvent(ev) }
