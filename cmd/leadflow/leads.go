package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadflow/internal/app"
	"leadflow/internal/domain"
	"leadflow/internal/store"
	"leadflow/internal/workflow"
)

func leadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lead",
		Short: "Lead commands",
	}
	cmd.AddCommand(leadListCmd())
	cmd.AddCommand(leadShowCmd())
	cmd.AddCommand(leadCreateCmd())
	cmd.AddCommand(leadStatusCmd())
	cmd.AddCommand(leadAssignCmd())
	cmd.AddCommand(leadDeleteCmd())
	return cmd
}

func leadListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the leads visible to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter domain.Status
			if status != "" {
				st, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				filter = st
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Store.Hydrate(ctx); err != nil {
					return err
				}
				var leads []domain.Lead
				for _, l := range s.Store.Visible() {
					if filter == "" || l.Status == filter {
						leads = append(leads, l)
					}
				}
				if viper.GetBool("json") {
					return printJSON(leads)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Project", "City", "Status", "Quote", "Value", "Projectleider", "Updated"})
				for _, l := range leads {
					value := ""
					if l.QuoteValue.Valid {
						value = l.QuoteValue.Decimal.StringFixed(2)
					}
					tw.AppendRow(table.Row{l.ID, l.ProjectType, l.City, l.Status, l.EffectiveApproval(), value, domain.StringValue(l.AssignedProjectleider), l.UpdatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func leadShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a lead with its quote and allowed actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Store.Hydrate(ctx); err != nil {
					return err
				}
				l, ok := s.Store.Get(args[0])
				if !ok {
					return fmt.Errorf("lead %s: %w", args[0], domain.ErrNotFound)
				}
				allowed := s.Store.Allowed(l.ID)
				editable := s.Store.Machine().CanEditQuote(l, s.Identity)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"lead": l, "state": workflow.Derive(l), "allowed": allowed, "quote_editable": editable})
				}
				printLead(l, workflow.Derive(l), allowed)
				if editable {
					fmt.Println("quote can be edited with 'leadflow quote save'")
				}
				return nil
			})
		},
	}
	return cmd
}

func leadCreateCmd() *cobra.Command {
	var in domain.LeadIntake
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateLead(cmd.Context(), func(ctx context.Context, st *store.Store) (*store.Pending, error) {
				return st.CreateLead(ctx, in)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "lead id (generated when empty)")
	cmd.Flags().StringVar(&in.ProjectType, "project-type", "", "project type, e.g. Dakkapel")
	cmd.Flags().StringVar(&in.City, "city", "", "city")
	cmd.Flags().StringVar(&in.Address, "address", "", "address")
	cmd.Flags().StringVar(&in.ClientName, "client-name", "", "client name")
	cmd.Flags().StringVar(&in.ClientEmail, "client-email", "", "client email")
	cmd.Flags().StringVar(&in.ClientPhone, "client-phone", "", "client phone")
	cmd.Flags().StringVar(&in.Assignee, "assignee", "", "assignee")
	cmd.Flags().StringVar(&in.AssignedProjectleider, "projectleider", "", "projectleider")
	cmd.Flags().StringVar(&in.AssignedRekenaar, "rekenaar", "", "rekenaar")
	cmd.Flags().StringVar(&in.AssignedTekenaar, "tekenaar", "", "tekenaar")
	_ = cmd.MarkFlagRequired("project-type")
	return cmd
}

func leadStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a lead to another pipeline status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return mutateLead(cmd.Context(), func(ctx context.Context, st *store.Store) (*store.Pending, error) {
				return st.UpdateStatus(ctx, args[0], status)
			})
		},
	}
	return cmd
}

func leadAssignCmd() *cobra.Command {
	var slot, name string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Fill or clear an assignment slot",
		Long:  "Slots are assignee, projectleider, rekenaar and tekenaar. An empty --to clears the slot.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sl, err := domain.ParseSlot(slot)
			if err != nil {
				return err
			}
			return mutateLead(cmd.Context(), func(ctx context.Context, st *store.Store) (*store.Pending, error) {
				return st.Assign(ctx, args[0], sl, name)
			})
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "slot to change")
	cmd.Flags().StringVar(&name, "to", "", "name to assign")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func leadDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateLead(cmd.Context(), func(ctx context.Context, st *store.Store) (*store.Pending, error) {
				return st.DeleteLead(ctx, args[0])
			})
		},
	}
	return cmd
}

func quoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote workflow",
		Long: `Engineers price a lead and submit the quote; an admin approves (optionally with an adjusted total)
or rejects it with feedback. Rejected quotes can be revised and resubmitted. Approved quotes are sent by their author.`,
	}
	cmd.AddCommand(quoteSaveCmd())
	cmd.AddCommand(quoteSubmitCmd())
	cmd.AddCommand(quoteApproveCmd())
	cmd.AddCommand(quoteRejectCmd())
	cmd.AddCommand(quoteSendCmd())
	return cmd
}

type submissionFlags struct {
	items       []string
	description string
	legacy      string
	notes       []string
	vat         bool
	drawings    bool
	siteVisit   bool
}

func (f *submissionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.items, "item", nil, "line item as description=amount (repeatable)")
	cmd.Flags().StringVar(&f.description, "description", "", "quote description")
	cmd.Flags().StringVar(&f.legacy, "legacy-description", "", "import details from a legacy description blob")
	cmd.Flags().StringArrayVar(&f.notes, "note", nil, "attention note (repeatable)")
	cmd.Flags().BoolVar(&f.vat, "vat", false, "amounts include VAT")
	cmd.Flags().BoolVar(&f.drawings, "drawings", false, "quote includes drawings")
	cmd.Flags().BoolVar(&f.siteVisit, "site-visit", false, "quote includes a site visit")
}

func (f *submissionFlags) submission() (workflow.Submission, error) {
	var sub workflow.Submission
	for _, raw := range f.items {
		item, err := parseLineItem(raw)
		if err != nil {
			return sub, err
		}
		sub.LineItems = append(sub.LineItems, item)
	}
	details := domain.QuoteDetails{}
	if f.legacy != "" {
		details = domain.ParseQuoteDescription(f.legacy)
	}
	if f.description != "" {
		details.Description = f.description
	}
	details.AttentionNotes = append(details.AttentionNotes, f.notes...)
	details.IncludeVAT = details.IncludeVAT || f.vat
	details.IncludeDrawings = details.IncludeDrawings || f.drawings
	details.IncludeSiteVisit = details.IncludeSiteVisit || f.siteVisit
	if details.Description != "" || len(details.AttentionNotes) > 0 || details.IncludeVAT || details.IncludeDrawings || details.IncludeSiteVisit {
		sub.Details = &details
	}
	return sub, nil
}

func parseLineItem(raw string) (domain.LineItem, error) {
	desc, amount, ok := strings.Cut(raw, "=")
	if !ok {
		return domain.LineItem{}, &domain.ValidationError{Field: "item", Reason: fmt.Sprintf("%q is not description=amount", raw)}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return domain.LineItem{}, &domain.ValidationError{Field: "item", Reason: fmt.Sprintf("amount %q: %v", amount, err)}
	}
	return domain.LineItem{Description: strings.TrimSpace(desc), Amount: d}, nil
}

func quoteSaveCmd() *cobra.Command {
	var f submissionFlags
	cmd := &cobra.Command{
		Use:   "save <id>",
		Short: "Save a quote draft without submitting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := f.submission()
			if err != nil {
				return err
			}
			return mutateLead(cmd.Context(), func(ctx context.Context, st *store.Store) (*store.Pending, error) {
				return st.SaveQuoteDraft(ctx, args[0], sub)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func quoteSubmitCmd() *cobra.Command {
	var f submissionFlags
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a quote for approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := f.submission()
			if err != nil {
				return err
			}
			return mutateLead(cmd.Context(), func(ctx context.Context, st *store.Store) (*store.Pending, error) {
				return st.SubmitQuote(ctx, args[0], sub)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func quoteApproveCmd() *cobra.Command {
	var message, adjusted string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := workflow.ApproveInput{Message: message}
			if adjusted != "" {
				v, err := decimal.NewFromString(adjusted)
				if err != nil {
					return &domain.ValidationError{Field: "adjusted_value", Reason: err.Error()}
				}
				in.AdjustedValue = decimal.NewNullDecimal(v)
			}
			return mutateLead(cmd.Context(), func(ctx context.Context, st *store.Store) (*store.Pending, error) {
				return st.ApproveQuote(ctx, args[0], in)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "optional feedback for the engineer")
	cmd.Flags().StringVar(&adjusted, "adjusted-value", "", "new quote total; line items are scaled to match")
	return cmd
}

func quoteRejectCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending quote with feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateLead(cmd.Context(), func(ctx context.Context, st *store.Store) (*store.Pending, error) {
				return st.RejectQuote(ctx, args[0], workflow.RejectInput{Message: message})
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "reason for the rejection")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func quoteSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <id>",
		Short: "Mark an approved quote as sent to the client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateLead(cmd.Context(), func(ctx context.Context, st *store.Store) (*store.Pending, error) {
				return st.SendQuote(ctx, args[0])
			})
		},
	}
	return cmd
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Order commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "confirm <id>",
		Short: "Record that the client accepted the quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateLead(cmd.Context(), func(ctx context.Context, st *store.Store) (*store.Pending, error) {
				return st.ConfirmOrder(ctx, args[0])
			})
		},
	})
	return cmd
}

// mutateLead hydrates the session store, runs one optimistic mutation and
// waits for the authoritative answer before printing the lead.
func mutateLead(ctx context.Context, fn func(context.Context, *store.Store) (*store.Pending, error)) error {
	return withSession(ctx, func(ctx context.Context, s *app.Session) error {
		if err := s.Store.Hydrate(ctx); err != nil {
			return err
		}
		p, err := fn(ctx, s.Store)
		if err != nil {
			return err
		}
		if err := p.Wait(ctx); err != nil {
			return err
		}
		l, ok := s.Store.Get(p.LeadID)
		if !ok {
			if viper.GetBool("json") {
				return printJSON(map[string]any{"id": p.LeadID, "op": p.Op})
			}
			fmt.Printf("%s %s\n", p.Op, p.LeadID)
			return nil
		}
		if viper.GetBool("json") {
			return printJSON(l)
		}
		printLead(l, workflow.Derive(l), s.Store.Allowed(l.ID))
		return nil
	})
}

func printLead(l domain.Lead, state workflow.State, allowed []workflow.Op) {
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", l.ID},
		{"Project", l.ProjectType},
		{"City", l.City},
		{"Address", l.Address},
		{"Client", strings.TrimSpace(strings.Join([]string{l.ClientName, l.ClientEmail, l.ClientPhone}, " "))},
		{"Status", l.Status},
		{"Quote", fmt.Sprintf("%s (%s)", l.EffectiveApproval(), state)},
		{"Projectleider", domain.StringValue(l.AssignedProjectleider)},
		{"Rekenaar", domain.StringValue(l.AssignedRekenaar)},
		{"Tekenaar", domain.StringValue(l.AssignedTekenaar)},
		{"Assignee", domain.StringValue(l.Assignee)},
		{"Updated", l.UpdatedAt},
	})
	fmt.Println(tw.Render())

	if len(l.QuoteLineItems) > 0 {
		items := newTable()
		items.AppendHeader(table.Row{"Item", "Amount"})
		for _, it := range l.QuoteLineItems {
			items.AppendRow(table.Row{it.Description, it.Amount.StringFixed(2)})
		}
		if l.QuoteValue.Valid {
			items.AppendFooter(table.Row{"Total", l.QuoteValue.Decimal.StringFixed(2)})
		}
		fmt.Println(items.Render())
	}
	if d := l.QuoteDetails; d != nil {
		if d.Description != "" {
			fmt.Println(d.Description)
		}
		for _, n := range d.AttentionNotes {
			fmt.Println("  ! " + n)
		}
	}
	for _, fb := range l.QuoteFeedback {
		fmt.Printf("[%s] %s %s: %s\n", fb.CreatedAt, fb.Type, fb.AuthorName, fb.Message)
	}
	if len(allowed) > 0 {
		ops := make([]string, len(allowed))
		for i, op := range allowed {
			ops[i] = string(op)
		}
		fmt.Println("allowed:", strings.Join(ops, ", "))
	}
}
