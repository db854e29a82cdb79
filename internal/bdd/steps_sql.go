package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/resume-chat/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	json "github.com/goccy/go-json"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		q := &sqlSteps{s: s}
		ctx.Step(`^I execute SQL query:$`, q.iExecuteSQLQuery)
		ctx.Step(`^the SQL result should have (\d+) rows?$`, q.theSQLResultShouldHaveRows)
		ctx.Step(`^the SQL result should match:$`, q.theSQLResultShouldMatch)
		ctx.Step(`^the SQL result at row (\d+) column "([^"]*)" should be "([^"]*)"$`, q.theSQLResultCellShouldBe)
	})
}

// sqlSteps assert on the raw tables. On stores without SQL every assertion
// passes vacuously, so features stay portable across backends.
type sqlSteps struct {
	s    *cucumber.TestScenario
	rows []map[string]interface{}
}

func (q *sqlSteps) iExecuteSQLQuery(query *godog.DocString) error {
	db := q.s.Suite.DB
	if db == nil {
		return fmt.Errorf("suite has no test database")
	}
	stmt, err := q.s.Expand(query.Content)
	if err != nil {
		return err
	}
	if q.rows, err = db.ExecSQL(context.Background(), stmt); err != nil || q.rows == nil {
		return err
	}
	// Expose the rows to the response assertions too.
	data, err := json.Marshal(q.rows)
	if err != nil {
		return err
	}
	q.s.Session().SetRespBytes(data)
	return nil
}

func (q *sqlSteps) theSQLResultShouldHaveRows(n int) error {
	if q.rows != nil && len(q.rows) != n {
		return fmt.Errorf("expected %d row(s), got %d", n, len(q.rows))
	}
	return nil
}

// theSQLResultShouldMatch compares the leading rows with a table whose first
// row names the columns.
func (q *sqlSteps) theSQLResultShouldMatch(table *godog.Table) error {
	if q.rows == nil {
		return nil
	}
	if len(table.Rows) < 2 {
		return fmt.Errorf("the table needs a header row and at least one data row")
	}
	header := table.Rows[0].Cells
	for i, row := range table.Rows[1:] {
		for j, cell := range row.Cells {
			if err := q.theSQLResultCellShouldBe(i, header[j].Value, cell.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (q *sqlSteps) theSQLResultCellShouldBe(row int, column, expected string) error {
	if q.rows == nil {
		return nil
	}
	if row >= len(q.rows) {
		return fmt.Errorf("row %d out of range, the result has %d row(s)", row, len(q.rows))
	}
	value, ok := q.rows[row][column]
	if !ok {
		return fmt.Errorf("the result has no column %q", column)
	}
	want, err := q.s.Expand(expected)
	if err != nil {
		return err
	}
	if got := fmt.Sprintf("%v", value); got != want {
		return fmt.Errorf("row %d column %q: expected %q, got %q", row, column, want, got)
	}
	return nil
}
