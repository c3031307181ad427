package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"notifgate/internal/domain/client"
	"notifgate/internal/domain/notification"
)

func (c *cli) print(v any) error {
	if c.output == "json" {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	switch v := v.(type) {
	case *client.Client:
		printClients(w, []*client.Client{v})
	case []*client.Client:
		printClients(w, v)
	case *notification.Type:
		printTypes(w, []*notification.Type{v})
	case []*notification.Type:
		printTypes(w, v)
	case *notification.Record:
		printRecords(w, []*notification.Record{v})
	case *notification.ListResponse:
		printRecords(w, v.Notifications)
		fmt.Fprintf(w, "\npage %d, %d of %d records\n", v.Page, len(v.Notifications), v.Total)
	case *notification.SendResult:
		if v.Sent {
			fmt.Fprintf(w, "sent\t%s\n", v.Record.ID)
		} else {
			fmt.Fprintf(w, "not sent\t%s\n", v.Reason)
		}
	case string:
		fmt.Fprintln(w, v)
	default:
		fmt.Fprintf(w, "%v\n", v)
	}
	return w.Flush()
}

func printClients(w *tabwriter.Writer, clients []*client.Client) {
	fmt.Fprintln(w, "ID\tEMAIL\tCREATED")
	for _, c := range clients {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Email, c.CreatedAt.Format(time.RFC3339))
	}
}

func printTypes(w *tabwriter.Writer, types []*notification.Type) {
	fmt.Fprintln(w, "NAME\tMAX\tWINDOW")
	for _, t := range types {
		fmt.Fprintf(w, "%s\t%d\t%s\n", t.Name, t.MaxOccurrences, t.Window())
	}
}

func printRecords(w *tabwriter.Writer, records []*notification.Record) {
	fmt.Fprintln(w, "ID\tCLIENT\tTYPE\tSENT\tMESSAGE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.ClientID, r.TypeName, r.SentAt.Format(time.RFC3339), r.Message)
	}
}
