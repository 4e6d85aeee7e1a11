package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/contestboard/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGradingEvent_Validate(t *testing.T) {
	Convey("Given a grading event", t, func() {
		valid := model.GradingEvent{
			EventID:            "e1",
			ContestID:          "C1",
			UserID:             "U1",
			ChallengeMappingID: "M1",
			Points:             9,
		}

		Convey("When every field is present", func() {
			Convey("Then it validates", func() {
				So(valid.Validate(), ShouldBeNil)
			})
		})

		Convey("When zero points were awarded", func() {
			e := valid
			e.Points = 0
			Convey("Then it is still a valid event", func() {
				So(e.Validate(), ShouldBeNil)
			})
		})

		Convey("When a required field is missing or points are negative", func() {
			broken := []model.GradingEvent{
				{UserID: "U1", ChallengeMappingID: "M1", Points: 1},
				{ContestID: "C1", ChallengeMappingID: "M1", Points: 1},
				{ContestID: "C1", UserID: "U1", Points: 1},
				{ContestID: "C1", UserID: "U1", ChallengeMappingID: "M1", Points: -3},
				{ContestID: "  ", UserID: "U1", ChallengeMappingID: "M1"},
			}

			Convey("Then each one is rejected as invalid", func() {
				for _, e := range broken {
					err := e.Validate()
					So(err, ShouldNotBeNil)
					So(errors.Is(err, model.ErrInvalidEvent), ShouldBeTrue)
				}
			})
		})
	})
}

func TestGradingEvent_DerivedID(t *testing.T) {
	Convey("Given two deliveries of the same grade", t, func() {
		graded := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		a := model.GradingEvent{ContestID: "C1", UserID: "U1", ChallengeMappingID: "M1", Points: 9, GradedAt: graded}
		b := a
		b.GradedAt = graded.In(time.FixedZone("UTC+2", 2*60*60))

		Convey("Then they derive the same ID", func() {
			So(a.DerivedID(), ShouldEqual, b.DerivedID())
			So(a.DerivedID(), ShouldHaveLength, 36)
		})

		Convey("When the points differ", func() {
			c := a
			c.Points = 3

			Convey("Then the IDs differ", func() {
				So(c.DerivedID(), ShouldNotEqual, a.DerivedID())
			})
		})
	})
}
