package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/geomap"
)

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Geographic exports",
}

var mapExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export district boundaries with crime indexes as GeoJSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		shapefile, _ := cmd.Flags().GetString("shapefile")
		if shapefile == "" {
			shapefile = cfg.Map.Shapefile
		}
		if shapefile == "" {
			return eris.New("a shapefile is required (--shapefile or CRIMESTAT_MAP_SHAPEFILE)")
		}
		nameField, _ := cmd.Flags().GetString("name-field")
		if nameField == "" {
			nameField = cfg.Map.NameField
		}
		out, _ := cmd.Flags().GetString("out")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := geomap.New(st).Export(ctx, shapefile, nameField, out)
		if err != nil {
			return eris.Wrap(err, "map export")
		}

		zap.L().Info("map export complete",
			zap.Int("features", n),
			zap.String("out", out),
		)
		return nil
	},
}

func init() {
	mapExportCmd.Flags().String("shapefile", "", "district boundary shapefile")
	mapExportCmd.Flags().String("name-field", "", "attribute field holding the district name")
	mapExportCmd.Flags().String("out", "map.geojson", "output GeoJSON path")
	mapCmd.AddCommand(mapExportCmd)
	rootCmd.AddCommand(mapCmd)
}
