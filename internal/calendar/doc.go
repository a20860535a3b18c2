// Package calendar creates study group events on Google Calendar.
//
// Each call is made with the access token handed in by the caller; the
// package never loads or refreshes credentials itself. Events are created
// with a Google Meet conference attached, and the conference's first entry
// point is returned as the meeting link.
//
// Example usage:
//
//	client := calendar.NewClient(calendar.WithMetrics(metrics))
//	created, err := client.CreateEvent(ctx, token, calendar.EventInput{
//	    Summary:            "Algebra",
//	    Start:              start,
//	    End:                start.Add(time.Hour),
//	    AttachConferencing: true,
//	})
package calendar
