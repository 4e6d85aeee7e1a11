package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/contestboard/internal/adapters/repository"
	"github.com/okian/contestboard/internal/domain/scoring"
	"github.com/pashagolub/pgxmock/v4"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSubmissionReader(t *testing.T) {
	Convey("Given a submission reader", t, func() {
		ctx := context.Background()
		mock := newMockPool(t)
		defer mock.Close()
		reader := repository.NewSubmissionReader(mock)

		Convey("When listing a contest's challenge mappings", func() {
			mock.ExpectQuery(q("SELECT id FROM contest_challenges")).
				WithArgs("C1").
				WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("m1").AddRow("m2"))

			ids, err := reader.ChallengeMappings(ctx, "C1")

			Convey("Then every mapping is returned", func() {
				So(err, ShouldBeNil)
				So(ids, ShouldResemble, []string{"m1", "m2"})
			})
		})

		Convey("When the mappings cannot be read", func() {
			mock.ExpectQuery(q("SELECT id FROM contest_challenges")).
				WithArgs("C1").
				WillReturnError(errors.New("relation does not exist"))

			_, err := reader.ChallengeMappings(ctx, "C1")

			Convey("Then a store read failure is returned", func() {
				So(errors.Is(err, repository.ErrStoreRead), ShouldBeTrue)
			})
		})

		Convey("When the mappings query hangs past the query timeout", func() {
			slow := repository.NewSubmissionReader(mock, repository.WithSubmissionQueryTimeout(20*time.Millisecond))
			mock.ExpectQuery(q("SELECT id FROM contest_challenges")).
				WithArgs("C1").
				WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("m1")).
				WillDelayFor(2 * time.Second)

			start := time.Now()
			_, err := slow.ChallengeMappings(ctx, "C1")

			Convey("Then the call gives up at the deadline", func() {
				So(errors.Is(err, repository.ErrStoreRead), ShouldBeTrue)
				So(time.Since(start), ShouldBeLessThan, time.Second)
			})
		})

		Convey("When reading best points", func() {
			mappings := []string{"m1", "m2"}
			mock.ExpectQuery(q("SELECT challenge_mapping_id, MAX(points) FROM submissions")).
				WithArgs("U1", mappings).
				WillReturnRows(pgxmock.NewRows([]string{"challenge_mapping_id", "max"}).
					AddRow("m1", int64(9)).
					AddRow("m2", int64(4)))

			best, err := reader.BestPoints(ctx, "U1", mappings)

			Convey("Then the maxima are keyed by mapping", func() {
				So(err, ShouldBeNil)
				So(best, ShouldResemble, map[string]int64{"m1": 9, "m2": 4})
			})
		})

		Convey("When the reader backs the aggregator", func() {
			mock.ExpectQuery(q("SELECT id FROM contest_challenges")).
				WithArgs("C1").
				WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("m1").AddRow("m2"))
			mock.ExpectQuery(q("SELECT challenge_mapping_id, MAX(points)")).
				WithArgs("U1", []string{"m1", "m2"}).
				WillReturnRows(pgxmock.NewRows([]string{"challenge_mapping_id", "max"}).
					AddRow("m1", int64(9)).
					AddRow("m2", int64(4)))

			total, err := scoring.NewAggregator(reader).RecomputeTotal(ctx, "C1", "U1")

			Convey("Then the total is the sum of the maxima", func() {
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 13)
				So(mock.ExpectationsWereMet(), ShouldBeNil)
			})
		})
	})
}
