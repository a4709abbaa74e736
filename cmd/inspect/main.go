// inspect dumps the conversations and message counts stored in a
// database directory. Read-only debugging aid; run it against a copy of
// a live DB, not the DB itself.
package main

import (
	"flag"
	"fmt"
	"os"

	"chatsync/pkg/store"
)

func main() {
	var p string
	var verbose bool
	flag.StringVar(&p, "path", "", "pebble database path")
	flag.BoolVar(&verbose, "v", false, "print individual messages")
	flag.Parse()
	if p == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}

	st, err := store.Open(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", p, err)
		os.Exit(1)
	}
	defer st.Close()

	convs, err := st.ListConversations()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list conversations: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d conversation(s)\n", len(convs))
	for _, c := range convs {
		msgs, err := st.ListMessages(c.ID, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list messages for %s: %v\n", c.ID, err)
			continue
		}
		fmt.Printf("%s  %s <-> %s  messages=%d  last=%q\n",
			c.ID, c.Participant1, c.Participant2, len(msgs), c.LastMessage)
		if verbose {
			for _, m := range msgs {
				fmt.Printf("  %s  %s  %s: %s\n", m.TS.Format("2006-01-02 15:04:05"), m.ID, m.Sender, m.Text)
			}
		}
	}
}
