package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/peerline-net/peerline/internal/store"
)

func styledTable(headers []string, rows [][]string) string {
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
	return tbl.Render()
}

// ContactTableView renders the contact list.
func ContactTableView(contacts []store.Contact) string {
	if len(contacts) == 0 {
		return MutedStyle.Render("No contacts yet")
	}

	rows := make([][]string, 0, len(contacts))
	for _, c := range contacts {
		name := c.Name
		if name == "" {
			name = MutedStyle.Render("(unnamed)")
		}
		rows = append(rows, []string{
			name,
			c.Account,
			truncate(c.PublicKey, 20),
			c.AddedAt.Local().Format("2006-01-02"),
		})
	}
	return styledTable([]string{"Name", "Account", "Identity", "Added"}, rows)
}

// RenderContactTable outputs the contact list directly to stdout.
func RenderContactTable(contacts []store.Contact) {
	fmt.Println(ContactTableView(contacts))
}

// PeerStatusRow is one peer's presence as reported by the relay.
type PeerStatusRow struct {
	Name    string
	Account string
	Status  string
}

// PeerStatusTableView renders presence lookups for a set of peers.
func PeerStatusTableView(rows []PeerStatusRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("No peers to show")
	}

	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		icon := IconOffline
		if r.Status != "" && r.Status != "offline" {
			icon = IconOnline
		}
		name := r.Name
		if name == "" {
			name = MutedStyle.Render("(unnamed)")
		}
		out = append(out, []string{name, r.Account, fmt.Sprintf("%s %s", icon, r.Status)})
	}
	return styledTable([]string{"Name", "Account", "Status"}, out)
}

// RenderPeerStatusTable outputs presence rows directly to stdout.
func RenderPeerStatusTable(rows []PeerStatusRow) {
	fmt.Println(PeerStatusTableView(rows))
}

// IdentityView renders the local identity in a box for sharing out of band.
func IdentityView(account, publicKey, keyFile string, createdAt time.Time) string {
	content := fmt.Sprintf("%s Your Identity\n\n%s Account:     %s\n%s Public key:  %s\n\nStored at %s",
		IconKey,
		IconPeer, BoldStyle.Foreground(Primary).Render(account),
		IconKey, MutedStyle.Render(publicKey),
		MutedStyle.Render(keyFile),
	)
	if !createdAt.IsZero() {
		content += MutedStyle.Render(fmt.Sprintf(" (created %s)", createdAt.Local().Format("2006-01-02")))
	}
	return IdentityBoxStyle.Render(content)
}

func truncate(s string, max int) string {
	if len(s) <= max || max < 4 {
		return s
	}
	return s[:max-3] + "..."
}
