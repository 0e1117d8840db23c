package ranking_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/okian/receval/internal/domain/model"
	"github.com/okian/receval/internal/domain/ranking"
	. "github.com/smartystreets/goconvey/convey"
)

const eps = 1e-9

func twoUserFixture() (model.Recommendations, model.Relevance, model.ItemSet) {
	recs := model.Recommendations{
		1: {10, 20, 30},
		2: {40, 50, 60},
	}
	rel := model.Relevance{
		1: model.NewItemSet(20),
		2: model.NewItemSet(99),
	}
	return recs, rel, model.NewItemSet(10, 20, 30, 40, 50, 60, 70)
}

func TestEvaluator_Scenarios(t *testing.T) {
	Convey("Given two users where only the first one gets a hit", t, func() {
		ctx := context.Background()
		ev := ranking.NewEvaluator()
		recs, rel, items := twoUserFixture()

		Convey("Then hit-rate is one half", func() {
			s, err := ev.HitRate(ctx, recs, rel, 3)
			So(err, ShouldBeNil)
			So(s.Value, ShouldEqual, 0.5)
			So(s.Counted, ShouldEqual, 2)
		})

		Convey("Then precision divides by k times users", func() {
			s, err := ev.Precision(ctx, recs, rel, 3)
			So(err, ShouldBeNil)
			So(s.Value, ShouldAlmostEqual, 1.0/6.0, eps)
		})

		Convey("Then recall averages per-user recall", func() {
			s, err := ev.Recall(ctx, recs, rel, 3)
			So(err, ShouldBeNil)
			So(s.Value, ShouldEqual, 0.5)
			So(s.Warnings, ShouldBeEmpty)
		})

		Convey("Then coverage counts distinct recommended items over the universe", func() {
			s, err := ev.Coverage(ctx, recs, rel, items, 3)
			So(err, ShouldBeNil)
			So(s.Value, ShouldAlmostEqual, 6.0/7.0, eps)
		})

		Convey("And with a smaller cutoff only the head of each list counts", func() {
			s, err := ev.Coverage(ctx, recs, rel, items, 1)
			So(err, ShouldBeNil)
			So(s.Value, ShouldAlmostEqual, 2.0/7.0, eps)

			hr, err := ev.HitRate(ctx, recs, rel, 1)
			So(err, ShouldBeNil)
			So(hr.Value, ShouldEqual, 0)
		})

		Convey("Then ndcg uses the log2 position discount", func() {
			s, err := ev.NDCG(ctx, recs, rel, 3)
			So(err, ShouldBeNil)
			// user 1: hit at rank 1 -> (1/log2(3)) / 1; user 2: 0
			So(s.Value, ShouldAlmostEqual, (1/math.Log2(3))/2, eps)
		})

		Convey("Then map rewards the hit at its running precision", func() {
			s, err := ev.MAP(ctx, recs, rel, 3)
			So(err, ShouldBeNil)
			So(s.Value, ShouldAlmostEqual, 0.25, eps)
		})
	})

	Convey("Given one user whose two recommendations are both relevant", t, func() {
		ctx := context.Background()
		ev := ranking.NewEvaluator()
		recs := model.Recommendations{1: {5, 6}}
		rel := model.Relevance{1: model.NewItemSet(5, 6, 7)}

		Convey("Then map@2 normalizes by min(|relevant|, k)", func() {
			s, err := ev.MAP(ctx, recs, rel, 2)
			So(err, ShouldBeNil)
			So(s.Value, ShouldEqual, 1.0)
		})

		Convey("Then ndcg@2 reaches the ideal", func() {
			s, err := ev.NDCG(ctx, recs, rel, 2)
			So(err, ShouldBeNil)
			So(s.Value, ShouldAlmostEqual, 1.0, eps)
		})

		Convey("Then precision is capped by the list length against k", func() {
			s, err := ev.Precision(ctx, recs, rel, 4)
			So(err, ShouldBeNil)
			So(s.Value, ShouldEqual, 0.5)
		})
	})
}

func TestEvaluator_Properties(t *testing.T) {
	Convey("Given recommendations that contain every relevant item", t, func() {
		ctx := context.Background()
		ev := ranking.NewEvaluator()
		recs := model.Recommendations{
			1: {3, 1, 2, 8},
			2: {7, 4, 9},
			3: {5},
		}
		rel := model.Relevance{
			1: model.NewItemSet(1, 2, 3),
			2: model.NewItemSet(7),
			3: model.NewItemSet(5),
		}
		items := model.NewItemSet(1, 2, 3, 4, 5, 6, 7, 8, 9)

		rec, err := ev.Evaluate(ctx, ranking.Input{Label: "oracle", K: 4, Recommendations: recs, Relevance: rel, Items: items})
		So(err, ShouldBeNil)

		Convey("Then recall and ndcg are exactly one", func() {
			So(rec.Recall, ShouldEqual, 1.0)
			So(rec.NDCG, ShouldAlmostEqual, 1.0, eps)
			So(rec.HitRate, ShouldEqual, 1.0)
		})

		Convey("And every metric lies in [0, 1]", func() {
			for _, m := range rec.Metrics() {
				So(m.Value, ShouldBeBetweenOrEqual, 0, 1)
			}
		})

		Convey("And a second call returns a bit-identical record", func() {
			again, err := ev.Evaluate(ctx, ranking.Input{Label: "oracle", K: 4, Recommendations: recs, Relevance: rel, Items: items})
			So(err, ShouldBeNil)
			So(again, ShouldResemble, rec)
		})
	})

	Convey("Given a top-K list that repeats a relevant item", t, func() {
		ctx := context.Background()
		ev := ranking.NewEvaluator()
		items := model.NewItemSet(5, 6)

		Convey("Then the repeat is not counted as a second hit", func() {
			rec, err := ev.Evaluate(ctx, ranking.Input{
				Label: "repeat", K: 2,
				Recommendations: model.Recommendations{1: {5, 5}},
				Relevance:       model.Relevance{1: model.NewItemSet(5)},
				Items:           items,
			})
			So(err, ShouldBeNil)
			So(rec.HitRate, ShouldEqual, 1.0)
			So(rec.Precision, ShouldEqual, 0.5)
			So(rec.Recall, ShouldEqual, 1.0)
			So(rec.NDCG, ShouldAlmostEqual, 1.0, eps)
			So(rec.MAP, ShouldEqual, 1.0)
			for _, m := range rec.Metrics() {
				So(m.Value, ShouldBeBetweenOrEqual, 0, 1)
			}
		})

		Convey("Then later relevant items keep their own rank", func() {
			recs := model.Recommendations{1: {5, 5, 6}}
			rel := model.Relevance{1: model.NewItemSet(5, 6)}

			ndcg, err := ev.NDCG(ctx, recs, rel, 3)
			So(err, ShouldBeNil)
			So(ndcg.Value, ShouldAlmostEqual, 1.5/(1+1/math.Log2(3)), eps)

			ap, err := ev.MAP(ctx, recs, rel, 3)
			So(err, ShouldBeNil)
			So(ap.Value, ShouldAlmostEqual, (1.0+2.0/3.0)/2, eps)
		})
	})

	Convey("Given recommendations that never intersect relevance", t, func() {
		ctx := context.Background()
		ev := ranking.NewEvaluator()
		recs := model.Recommendations{1: {1, 2}, 2: {3, 4}}
		rel := model.Relevance{1: model.NewItemSet(9), 2: model.NewItemSet(8, 7)}

		rec, err := ev.Evaluate(ctx, ranking.Input{Label: "miss", K: 2, Recommendations: recs, Relevance: rel, Items: model.NewItemSet(1, 2, 3, 4, 7, 8, 9)})

		Convey("Then every accuracy metric is zero", func() {
			So(err, ShouldBeNil)
			So(rec.HitRate, ShouldEqual, 0)
			So(rec.Precision, ShouldEqual, 0)
			So(rec.Recall, ShouldEqual, 0)
			So(rec.NDCG, ShouldEqual, 0)
			So(rec.MAP, ShouldEqual, 0)
			So(rec.Coverage, ShouldAlmostEqual, 4.0/7.0, eps)
		})
	})
}

func TestEvaluator_MismatchedUsers(t *testing.T) {
	Convey("Given relevance with a user missing from recommendations", t, func() {
		ctx := context.Background()
		ev := ranking.NewEvaluator()
		recs := model.Recommendations{1: {10}}
		rel := model.Relevance{1: model.NewItemSet(10), 2: model.NewItemSet(20)}
		items := model.NewItemSet(10, 20)

		calls := map[string]func() error{
			"hit_rate":  func() error { _, err := ev.HitRate(ctx, recs, rel, 5); return err },
			"precision": func() error { _, err := ev.Precision(ctx, recs, rel, 5); return err },
			"recall":    func() error { _, err := ev.Recall(ctx, recs, rel, 5); return err },
			"ndcg":      func() error { _, err := ev.NDCG(ctx, recs, rel, 5); return err },
			"map":       func() error { _, err := ev.MAP(ctx, recs, rel, 5); return err },
			"coverage":  func() error { _, err := ev.Coverage(ctx, recs, rel, items, 5); return err },
		}

		Convey("Then each of the six metrics rejects the input and names itself", func() {
			for name, call := range calls {
				err := call()
				So(errors.Is(err, ranking.ErrMismatchedUsers), ShouldBeTrue)

				var me *ranking.MismatchedUserSetError
				So(errors.As(err, &me), ShouldBeTrue)
				So(me.Metric, ShouldEqual, name)
				So(me.MissingInRecommendations, ShouldResemble, []model.UserID{2})
				So(me.MissingInRelevance, ShouldBeEmpty)
				So(err.Error(), ShouldStartWith, name+":")
			}
		})

		Convey("Then Evaluate returns no partial record", func() {
			rec, err := ev.Evaluate(ctx, ranking.Input{Label: "m", K: 5, Recommendations: recs, Relevance: rel, Items: items})
			So(errors.Is(err, ranking.ErrMismatchedUsers), ShouldBeTrue)
			So(rec, ShouldResemble, ranking.Record{})
		})
	})

	Convey("Given recommendations with an extra user", t, func() {
		ev := ranking.NewEvaluator()
		_, err := ev.HitRate(context.Background(),
			model.Recommendations{1: {1}, 3: {2}},
			model.Relevance{1: model.NewItemSet(1)}, 1)

		var me *ranking.MismatchedUserSetError
		So(errors.As(err, &me), ShouldBeTrue)
		So(me.MissingInRelevance, ShouldResemble, []model.UserID{3})
	})
}

func TestEvaluator_ZeroRelevance(t *testing.T) {
	Convey("Given a user with an empty relevance set", t, func() {
		ctx := context.Background()
		ev := ranking.NewEvaluator()
		recs := model.Recommendations{1: {1, 2}, 2: {3, 4}}
		rel := model.Relevance{1: model.NewItemSet(1), 2: model.NewItemSet()}

		Convey("Then recall excludes the user from the average and warns", func() {
			s, err := ev.Recall(ctx, recs, rel, 2)
			So(err, ShouldBeNil)
			So(s.Value, ShouldEqual, 1.0)
			So(s.Counted, ShouldEqual, 1)
			So(s.Warnings, ShouldResemble, []ranking.Warning{{Metric: "recall", UserID: 2, Reason: ranking.ReasonZeroRelevance}})
		})

		Convey("Then hit-rate and precision still count the user", func() {
			hr, err := ev.HitRate(ctx, recs, rel, 2)
			So(err, ShouldBeNil)
			So(hr.Value, ShouldEqual, 0.5)

			pr, err := ev.Precision(ctx, recs, rel, 2)
			So(err, ShouldBeNil)
			So(pr.Value, ShouldEqual, 0.25)
		})

		Convey("Then the record collects one warning per averaged metric", func() {
			rec, err := ev.Evaluate(ctx, ranking.Input{Label: "z", K: 2, Recommendations: recs, Relevance: rel, Items: model.NewItemSet(1, 2, 3, 4)})
			So(err, ShouldBeNil)
			So(len(rec.Warnings), ShouldEqual, 3)
			So(rec.Warnings[0].Metric, ShouldEqual, "recall")
			So(rec.Warnings[1].Metric, ShouldEqual, "ndcg")
			So(rec.Warnings[2].Metric, ShouldEqual, "map")
		})
	})

	Convey("Given only users with empty relevance", t, func() {
		ev := ranking.NewEvaluator()
		s, err := ev.NDCG(context.Background(), model.Recommendations{1: {1}}, model.Relevance{1: model.NewItemSet()}, 3)

		Convey("Then the averaged metric is zero rather than NaN", func() {
			So(err, ShouldBeNil)
			So(s.Value, ShouldEqual, 0)
			So(s.Counted, ShouldEqual, 0)
		})
	})
}

func TestEvaluator_InvalidInput(t *testing.T) {
	Convey("Given a non-positive cutoff", t, func() {
		ev := ranking.NewEvaluator()
		recs, rel, items := twoUserFixture()

		_, err := ev.Precision(context.Background(), recs, rel, 0)
		So(errors.Is(err, ranking.ErrInvalidCutoff), ShouldBeTrue)

		_, err = ev.Coverage(context.Background(), recs, rel, items, -1)
		So(errors.Is(err, ranking.ErrInvalidCutoff), ShouldBeTrue)
	})

	Convey("Given an empty item universe", t, func() {
		ev := ranking.NewEvaluator()
		recs, rel, _ := twoUserFixture()

		_, err := ev.Coverage(context.Background(), recs, rel, model.NewItemSet(), 3)
		So(errors.Is(err, ranking.ErrEmptyItemUniverse), ShouldBeTrue)
	})

	Convey("Given no users at all", t, func() {
		ev := ranking.NewEvaluator()
		s, err := ev.HitRate(context.Background(), model.Recommendations{}, model.Relevance{}, 10)
		So(err, ShouldBeNil)
		So(s.Value, ShouldEqual, 0)
	})
}

func TestEvaluator_Sharded(t *testing.T) {
	Convey("Given a large synthetic population", t, func() {
		ctx := context.Background()
		recs := make(model.Recommendations)
		rel := make(model.Relevance)
		items := make(model.ItemSet)
		for u := 0; u < 500; u++ {
			list := make([]model.ItemID, 0, 10)
			for j := 0; j < 10; j++ {
				it := model.ItemID((u*7 + j*13) % 211)
				list = append(list, it)
				items.Add(it)
			}
			recs[model.UserID(u)] = list
			set := model.NewItemSet(model.ItemID((u*3)%211), model.ItemID((u*11)%211))
			if u%50 == 0 {
				set = model.NewItemSet()
			}
			rel[model.UserID(u)] = set
			for it := range set {
				items.Add(it)
			}
		}
		in := ranking.Input{Label: "shards", K: 10, Recommendations: recs, Relevance: rel, Items: items}

		sequential, err := ranking.NewEvaluator().Evaluate(ctx, in)
		So(err, ShouldBeNil)

		Convey("When the same input is sharded across workers", func() {
			parallel, err := ranking.NewEvaluator(ranking.WithWorkers(7), ranking.WithMinShardSize(1)).Evaluate(ctx, in)

			Convey("Then the record is bit-identical to the sequential one", func() {
				So(err, ShouldBeNil)
				So(parallel, ShouldResemble, sequential)
				So(len(parallel.Warnings), ShouldEqual, 30)
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := ranking.NewEvaluator(ranking.WithWorkers(4), ranking.WithMinShardSize(1)).Evaluate(cctx, in)

			Convey("Then the sharded run reports the cancellation", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}

func TestRecord_Columns(t *testing.T) {
	Convey("Given a record at k=10", t, func() {
		rec := ranking.Record{Label: "m", K: 10, HitRate: 0.1, Precision: 0.2, Recall: 0.3, NDCG: 0.4, MAP: 0.5, Coverage: 0.6}

		Convey("Then the metrics come out in the fixed column order", func() {
			ms := rec.Metrics()
			So(len(ms), ShouldEqual, 6)
			So(ms[0], ShouldResemble, ranking.Metric{Name: "hit_rate@10", Value: 0.1})
			So(ms[3].Name, ShouldEqual, "ndcg@10")
			So(ms[5], ShouldResemble, ranking.Metric{Name: "coverage@10", Value: 0.6})
			So(ranking.Columns(10), ShouldResemble, []string{"hit_rate@10", "precision@10", "recall@10", "ndcg@10", "map@10", "coverage@10"})
		})
	})
}
