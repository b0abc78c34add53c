package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamicool/PPD/internal/core/graph"
	"github.com/jamicool/PPD/internal/core/model"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the most recently updated projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.Close()

			list := s.store.LoadProjects(cmd.Context())
			rows := make([][]string, 0, len(list))
			for _, p := range list {
				rows = append(rows, []string{p.ID, p.Name, string(p.Type), p.UpdatedAt.Local().Format(time.DateTime)})
			}
			table([]string{"ID", "NAME", "TYPE", "UPDATED"}, rows)
			return nil
		},
	}
}

func createCmd() *cobra.Command {
	var name, typ string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.Close()

			p, err := s.store.CreateProject(cmd.Context(), model.Project{
				Name: name,
				Type: model.ParseProjectType(typ),
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s created %s %s\n", statusIcon(true), brand.Sprint(p.Name), subtle.Sprint(p.ID))
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "project name")
	cmd.Flags().StringVarP(&typ, "type", "t", string(model.ProjectTypeGas), "project type (gas or oil)")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project>",
		Short: "Print a project's nodes and connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), args[0], func(s *session, p *model.Project) error {
				fmt.Printf("%s %s  %s  rev %d  updated %s\n\n",
					brand.Sprint(p.Name), subtle.Sprint(p.ID), p.Type, p.Revision,
					p.UpdatedAt.Local().Format(time.DateTime))

				fmt.Println("  Nodes:")
				rows := make([][]string, 0, len(p.Nodes))
				for _, n := range p.Nodes {
					pos := "-"
					if n.Position != nil {
						pos = fmt.Sprintf("%g,%g", n.Position.X, n.Position.Y)
					}
					links := strconv.Itoa(len(graph.ConnectionsOf(p, n.ID)))
					rows = append(rows, []string{n.ID, n.Type, pos, links, formatProperties(n.Properties)})
				}
				table([]string{"ID", "TYPE", "POSITION", "LINKS", "PROPERTIES"}, rows)

				fmt.Println()
				fmt.Println("  Connections:")
				rows = rows[:0]
				for _, c := range p.Connections {
					rows = append(rows, []string{c.ID, c.SourceID, c.TargetID, formatProperties(c.Properties)})
				}
				table([]string{"ID", "SOURCE", "TARGET", "PROPERTIES"}, rows)
				return nil
			})
		},
	}
}

func formatProperties(p model.Properties) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p[k].String())
	}
	return strings.Join(parts, " ")
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project>",
		Short: "Delete a project with all its nodes and connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.store.DeleteProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("%s deleted %s\n", statusIcon(true), args[0])
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <project>",
		Short: "Check a project against the element catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), args[0], func(s *session, p *model.Project) error {
				res, _ := s.store.ValidateProject(cmd.Context())
				fmt.Printf("%s %s\n", statusIcon(res.IsValid), p.Name)
				for _, e := range res.Errors {
					fmt.Printf("  %s %s\n", bad.Sprint("error"), e)
				}
				for _, w := range res.Warnings {
					fmt.Printf("  %s %s\n", warn.Sprint("warning"), w)
				}
				if !res.IsValid {
					return fmt.Errorf("project %s is not valid: %w", p.ID, model.ErrValidation)
				}
				return nil
			})
		},
	}
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <project>",
		Short: "Download a project as a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), args[0], func(s *session, p *model.Project) error {
				data, name, err := s.store.ExportProject(cmd.Context())
				if err != nil {
					return err
				}
				if out == "-" {
					_, err := os.Stdout.Write(data)
					return err
				}
				path := out
				if path == "" {
					path = filepath.Base(name)
				}
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				fmt.Printf("%s exported %s to %s\n", statusIcon(true), p.Name, path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file, - for stdout (default: server-suggested name)")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Upload an exported project as a new project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.Close()

			p, err := s.store.ImportProject(cmd.Context(), filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			fmt.Printf("%s imported %s %s (%d nodes, %d connections)\n",
				statusIcon(true), brand.Sprint(p.Name), subtle.Sprint(p.ID), len(p.Nodes), len(p.Connections))
			return nil
		},
	}
}

func catalogCmd() *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the element types available for a project type",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.Close()

			kinds := s.catalog.ElementsFor(model.ParseProjectType(typ))
			for _, cat := range s.catalog.SortedCategories() {
				var rows [][]string
				for _, kind := range kinds {
					el, ok := s.catalog.Element(kind)
					if !ok || el.Category != cat {
						continue
					}
					rows = append(rows, []string{kind, el.Name, formatProperties(s.catalog.Defaults(kind))})
				}
				if len(rows) == 0 {
					continue
				}
				fmt.Println(brand.Sprint(s.catalog.Categories[cat].Name))
				table([]string{"TYPE", "NAME", "DEFAULTS"}, rows)
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", string(model.ProjectTypeGas), "project type (gas or oil)")
	return cmd
}
