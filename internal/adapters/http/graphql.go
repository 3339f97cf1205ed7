package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/core/usecases"
)

// gridArgs are the arguments shared by the grid and features queries.
var gridArgs = graphql.FieldConfigArgument{
	"lat":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
	"lon":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
	"radius":  &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: defaultRadius},
	"cell":    &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: defaultCellSize},
	"width":   &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
	"height":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
	"sources": &graphql.ArgumentConfig{Type: graphql.NewList(graphql.String)},
}

func gridRequestFromArgs(args map[string]interface{}) usecases.GridRequest {
	req := usecases.GridRequest{
		Center: domain.GeoPoint{
			Lat: args["lat"].(float64),
			Lon: args["lon"].(float64),
		},
		RadiusMeters:   args["radius"].(float64),
		CellSizeMeters: args["cell"].(float64),
		Width:          args["width"].(int),
		Height:         args["height"].(int),
	}
	if list, ok := args["sources"].([]interface{}); ok {
		for _, s := range list {
			if name, ok := s.(string); ok {
				req.Sources = append(req.Sources, name)
			}
		}
	}
	return req
}

func categoryNames(row []domain.TerrainCategory) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = c.String()
	}
	return out
}

// buildSchema creates the GraphQL schema wired to the grid service.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	categoryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Category",
		Fields: graphql.Fields{
			"name":     &graphql.Field{Type: graphql.String},
			"priority": &graphql.Field{Type: graphql.Int},
			"glyph":    &graphql.Field{Type: graphql.String},
		},
	})

	gridType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Grid",
		Fields: graphql.Fields{
			"source":       &graphql.Field{Type: graphql.String},
			"width":        &graphql.Field{Type: graphql.Int},
			"height":       &graphql.Field{Type: graphql.Int},
			"cell_size_m":  &graphql.Field{Type: graphql.Float},
			"features":     &graphql.Field{Type: graphql.Int},
			"generated_at": &graphql.Field{Type: graphql.String},
			"cells": &graphql.Field{
				Type:        graphql.NewList(graphql.NewList(graphql.String)),
				Description: "Category names, row 0 is the northern edge",
			},
			"ascii": &graphql.Field{Type: graphql.NewList(graphql.String)},
		},
	})

	featureType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Feature",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.String},
			"kind":        &graphql.Field{Type: graphql.String},
			"category":    &graphql.Field{Type: graphql.String},
			"priority":    &graphql.Field{Type: graphql.Int},
			"coordinates": &graphql.Field{Type: graphql.NewList(geoPointType)},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"grid": &graphql.Field{
				Type:        gridType,
				Description: "Generate a terrain grid around a point",
				Args:        gridArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					event, err := deps.Grids.Generate(p.Context, gridRequestFromArgs(p.Args))
					if err != nil {
						return nil, err
					}
					rows := event.Grid.Rows()
					cells := make([][]string, len(rows))
					for i, row := range rows {
						cells[i] = categoryNames(row)
					}
					return map[string]interface{}{
						"source":       event.Source,
						"width":        event.Grid.Width,
						"height":       event.Grid.Height,
						"cell_size_m":  event.CellSizeMeters,
						"features":     event.Features,
						"generated_at": event.GeneratedAt.Format(time.RFC3339),
						"cells":        cells,
						"ascii":        strings.Split(strings.TrimSuffix(event.Grid.ASCII(), "\n"), "\n"),
					}, nil
				},
			},
			"features": &graphql.Field{
				Type:        graphql.NewList(featureType),
				Description: "Classified features of the area a grid would cover",
				Args:        gridArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					set, err := deps.Grids.Features(p.Context, gridRequestFromArgs(p.Args))
					if err != nil {
						return nil, err
					}
					out := make([]map[string]interface{}, len(set.Features))
					for i, f := range set.Features {
						coords := make([]map[string]interface{}, len(f.Coordinates))
						for j, pt := range f.Coordinates {
							coords[j] = map[string]interface{}{"lat": pt.Lat, "lon": pt.Lon}
						}
						out[i] = map[string]interface{}{
							"id":          f.ID,
							"kind":        f.Kind.String(),
							"category":    f.Category.String(),
							"priority":    f.Priority,
							"coordinates": coords,
						}
					}
					return out, nil
				},
			},
			"categories": &graphql.Field{
				Type:        graphql.NewList(categoryType),
				Description: "The terrain vocabulary with render priorities",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					infos := categoryInfos()
					out := make([]map[string]interface{}, len(infos))
					for i, c := range infos {
						out[i] = map[string]interface{}{"name": c.Name, "priority": c.Priority, "glyph": c.Glyph}
					}
					return out, nil
				},
			},
			"sources": &graphql.Field{
				Type:        graphql.NewList(graphql.String),
				Description: "Configured sources in default fallback order",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Grids.Sources(), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
