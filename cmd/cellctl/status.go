package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"cell/internal/adminapi"
	"cell/internal/ui"
)

func statusCmd(adminSock *string) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "show the route table for a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dialAdmin(*adminSock)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx := cmd.Context()
			if target != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, adminapi.TargetHeader, target)
			}
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			routes, err := invokeStruct(ctx, conn, "/cell.admin.v1.Admin/Routes")
			if err != nil {
				return fmt.Errorf("fetch routes: %w", err)
			}

			fmt.Print(ui.KeyValues(
				ui.KV("admin socket", *adminSock),
				ui.KV("target", displayTarget(target)),
			))
			fmt.Println(renderRoutes(routes))
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "peer cell name to proxy the query to (default: this node)")
	return cmd
}

func displayTarget(target string) string {
	if target == "" {
		return "(local)"
	}
	return target
}

func dialAdmin(sockPath string) (*grpc.ClientConn, error) {
	return grpc.NewClient("unix://"+sockPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func invokeStruct(ctx context.Context, conn *grpc.ClientConn, method string) (*structpb.Struct, error) {
	req := new(structpb.Struct)
	reply := new(structpb.Struct)
	if err := conn.Invoke(ctx, method, req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func renderRoutes(s *structpb.Struct) string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	headers := []string{"cell", "terminal", "address", "stale"}
	var rows [][]string
	for _, name := range names {
		list := s.Fields[name].GetListValue()
		if list == nil {
			continue
		}
		for _, v := range list.Values {
			fields := v.GetStructValue().GetFields()
			addr := fmt.Sprintf("%s:%s", fields["ip"].GetStringValue(), trimFloat(fields["port"].GetNumberValue()))
			rows = append(rows, []string{name, fields["id"].GetStringValue(), addr, ui.Bool(fields["stale"].GetBoolValue())})
		}
	}
	if len(rows) == 0 {
		return ui.Warn("no routes known")
	}
	return ui.Table(headers, rows)
}

func trimFloat(f float64) string {
	return fmt.Sprintf("%d", int64(f))
}
