// Package dockerfile turns Dockerfile text into a sequence of
// types.Directive values and folds them into a types.ImageSpec.
//
// Each directive kind is its own small struct implementing
// types.Directive rather than a single dispatch-by-string evaluator, so
// FROM, ENV, RUN and friends each carry exactly the fields they parse
// and nothing else. Directives this package doesn't recognize still
// parse successfully (so an otherwise-valid Dockerfile isn't rejected
// outright) but return an *UnparsedDirective error the moment they are
// evaluated.
package dockerfile
