package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/teemow/studygroup/internal/instrumentation"
	"github.com/teemow/studygroup/internal/logging"
)

// Client creates and deletes events on behalf of the server's credential.
// It is safe for concurrent use; every call builds its own service bound to
// the token it is given.
type Client struct {
	calendarID   string
	base         http.RoundTripper
	serviceOpts  []option.ClientOption
	newRequestID func() string
	metrics      *instrumentation.Metrics
	logger       logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint points the client at a different Calendar API base URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.serviceOpts = append(c.serviceOpts, option.WithEndpoint(endpoint))
	}
}

// WithBaseTransport sets the transport under the OAuth2 transport.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.base = rt
		}
	}
}

// WithCalendarID sets the calendar events are written to.
func WithCalendarID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.calendarID = id
		}
	}
}

// WithRequestIDFunc overrides the generator for conference request ids.
func WithRequestIDFunc(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newRequestID = fn
		}
	}
}

// WithMetrics enables Google API metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient returns a Client for the primary calendar.
func NewClient(opts ...Option) *Client {
	c := &Client{
		calendarID: PrimaryCalendarID,
		// Force HTTP/1.1 by disabling HTTP/2
		base:         &http.Transport{ForceAttemptHTTP2: false, Proxy: http.ProxyFromEnvironment},
		newRequestID: uuid.NewString,
		logger:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) service(ctx context.Context, token *oauth2.Token) (*calendar.Service, error) {
	if token == nil {
		return nil, fmt.Errorf("token cannot be nil")
	}

	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(token),
			Base:   c.base,
		},
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, c.serviceOpts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return svc, nil
}

// CreateEvent inserts an event. When conferencing is requested, a fresh
// conference request id is generated for every call and the first entry
// point of the returned conference becomes MeetLink.
//
// If the event was created but has no entry point, the event (with its ID)
// is returned together with ErrConferencingLinkMissing. Provider errors are
// returned as *CalendarError. Nothing is retried.
func (c *Client) CreateEvent(ctx context.Context, token *oauth2.Token, input EventInput) (*CreatedEvent, error) {
	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	tz := input.TimeZone
	if tz == "" {
		tz = "UTC"
	}

	event := &calendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Start: &calendar.EventDateTime{
			DateTime: input.Start.Format(time.RFC3339),
			TimeZone: tz,
		},
		End: &calendar.EventDateTime{
			DateTime: input.End.Format(time.RFC3339),
			TimeZone: tz,
		},
	}

	call := svc.Events.Insert(c.calendarID, event)
	if input.AttachConferencing {
		call = call.ConferenceDataVersion(1)
		event.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId: c.newRequestID(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{
					Type: ConferenceSolutionMeet,
				},
			},
		}
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationInsert)
	defer span.End()
	start := time.Now()

	created, err := call.Context(ctx).Do()
	if err != nil {
		err = wrapError("create event", err)
		instrumentation.SetSpanError(span, err)
		c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, instrumentation.OperationInsert, instrumentation.StatusError, time.Since(start))
		return nil, err
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, instrumentation.OperationInsert, instrumentation.StatusSuccess, time.Since(start))

	result := &CreatedEvent{
		ID:       created.Id,
		HTMLLink: created.HtmlLink,
		MeetLink: firstEntryPoint(created),
	}
	span.SetAttributes(instrumentation.NewSpanAttributeBuilder().WithMeeting("", created.Id).Build()...)

	if input.AttachConferencing && result.MeetLink == "" {
		instrumentation.SetSpanError(span, ErrConferencingLinkMissing)
		c.logger.Warn("event created without conferencing entry point", logging.EventID(created.Id))
		return result, ErrConferencingLinkMissing
	}

	instrumentation.SetSpanSuccess(span)
	return result, nil
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, token *oauth2.Token, eventID string) error {
	svc, err := c.service(ctx, token)
	if err != nil {
		return err
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationDelete,
		instrumentation.NewSpanAttributeBuilder().WithMeeting("", eventID).Build()...)
	defer span.End()
	start := time.Now()

	if err := svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
		err = wrapError("delete event", err)
		instrumentation.SetSpanError(span, err)
		c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, instrumentation.OperationDelete, instrumentation.StatusError, time.Since(start))
		return err
	}

	instrumentation.SetSpanSuccess(span)
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, instrumentation.OperationDelete, instrumentation.StatusSuccess, time.Since(start))
	return nil
}

func firstEntryPoint(event *calendar.Event) string {
	if event == nil || event.ConferenceData == nil {
		return ""
	}
	for _, ep := range event.ConferenceData.EntryPoints {
		if ep != nil && ep.Uri != "" {
			return ep.Uri
		}
	}
	return ""
}
